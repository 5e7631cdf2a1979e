package openai

import (
	"fmt"
	"time"

	"github.com/chainwright/chainwright/internal/port/reasoning"
)

func init() {
	reasoning.Register(backendName, func(cfg map[string]string) (reasoning.Backend, error) {
		url := cfg["url"]
		if url == "" {
			return nil, fmt.Errorf("openai: url is required")
		}

		timeout := 90 * time.Second
		if v := cfg["timeout"]; v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("openai: invalid timeout %q: %w", v, err)
			}
			timeout = d
		}

		return NewClient(url, cfg["api_key"], cfg["model"], timeout), nil
	})
}
