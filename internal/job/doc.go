// Package job owns the persistent registry of pipeline jobs and their stages.
//
// Jobs are created with the full ordered stage list for their pipeline kind
// and mutated exclusively through the registry's UpdateStage entry point,
// which serializes concurrent writers per job and rederives job-level status
// and progress after every stage transition. Reads return copies, never
// aliases into registry-owned state.
package job
