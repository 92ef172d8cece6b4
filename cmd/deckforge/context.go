package main

import (
	"strings"
	"sync"

	"deckforge/internal/api"
	"deckforge/internal/config"
)

type commandContext struct {
	configFlag *string
	addrFlag   *string
	tokenFlag  *string
	ownerFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, addrFlag, tokenFlag, ownerFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		addrFlag:   addrFlag,
		tokenFlag:  tokenFlag,
		ownerFlag:  ownerFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// apiClient builds a client for the daemon, preferring explicit flags over
// configured values.
func (c *commandContext) apiClient() (*api.Client, error) {
	addr := ""
	if c.addrFlag != nil {
		addr = strings.TrimSpace(*c.addrFlag)
	}
	token := ""
	if c.tokenFlag != nil {
		token = strings.TrimSpace(*c.tokenFlag)
	}

	if addr == "" || token == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		if addr == "" {
			addr = cfg.Paths.APIBind
		}
		if token == "" {
			token = cfg.Paths.APIToken
		}
	}

	opts := []api.ClientOption{}
	if token != "" {
		opts = append(opts, api.WithToken(token))
	}
	if c.ownerFlag != nil && strings.TrimSpace(*c.ownerFlag) != "" {
		opts = append(opts, api.WithOwner(strings.TrimSpace(*c.ownerFlag)))
	}
	return api.NewClient(addr, opts...), nil
}
