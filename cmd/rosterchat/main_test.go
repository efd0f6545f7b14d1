package main

import "testing"

func TestSubcommandsRegistered(t *testing.T) {
	for _, name := range []string{"client", "server", "local"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
}

func TestServerFlagsOverrideEnvDefaults(t *testing.T) {
	if err := serverCmd.ParseFlags([]string{"--addr", "127.0.0.1:7000", "--allowed-origins", "https://a.example,https://b.example", "--rate", "3"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if serverCfg.Addr != "127.0.0.1:7000" || serverCfg.RateLimit != 3 {
		t.Fatalf("flags not applied: %+v", serverCfg)
	}
	if len(serverCfg.AllowedOrigins) != 2 {
		t.Fatalf("origins = %v", serverCfg.AllowedOrigins)
	}
}
