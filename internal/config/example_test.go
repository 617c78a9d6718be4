package config_test

import (
	"fmt"

	"github.com/normanking/troupe/internal/config"
)

func ExampleDefault() {
	cfg := config.Default()

	fmt.Println(cfg.Engine.DefaultPersona)
	fmt.Println(cfg.Router.StickyWindow)
	fmt.Println(cfg.Blend.MinWeight)
	// Output:
	// onyx
	// 5m0s
	// 0.1
}

func ExampleConfig_Validate() {
	cfg := config.Default()
	cfg.Server.Port = 0

	if err := cfg.Validate(); err != nil {
		fmt.Println("invalid config")
	}
	// Output:
	// invalid config
}
