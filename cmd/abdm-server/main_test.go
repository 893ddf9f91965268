package main

import "testing"

func TestCommandTree(t *testing.T) {
	if got := serveCmd().Use; got != "serve" {
		t.Errorf("serve command use = %q", got)
	}
	if got := sweepCmd().Use; got != "sweep" {
		t.Errorf("sweep command use = %q", got)
	}

	migrate := migrateCmd()
	if got := migrate.Use; got != "migrate" {
		t.Errorf("migrate command use = %q", got)
	}
	var names []string
	for _, c := range migrate.Commands() {
		names = append(names, c.Use)
	}
	want := map[string]bool{"up": false, "status": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Errorf("migrate subcommand %q missing (have %v)", n, names)
		}
	}
}
