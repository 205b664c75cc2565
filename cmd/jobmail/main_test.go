package main

import (
	"io"
	"testing"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		want    Command
		wantErr bool
	}{
		{name: "run default mode", args: []string{"run"}, want: Command{Name: "run", Mode: "local", Source: "verdicts"}},
		{name: "run classify", args: []string{"run", "-mode", "classify"}, want: Command{Name: "run", Mode: "classify", Source: "verdicts"}},
		{name: "metrics records", args: []string{"metrics", "-source", "records"}, want: Command{Name: "metrics", Mode: "local", Source: "records"}},
		{name: "explain subject", args: []string{"explain", "-subject", "Hi"}, want: Command{Name: "explain", Mode: "local", Source: "verdicts", Subject: "Hi"}},
		{name: "train", args: []string{"train"}, want: Command{Name: "train", Mode: "local", Source: "verdicts"}},
		{name: "missing", args: nil, wantErr: true},
		{name: "unknown", args: []string{"deploy"}, wantErr: true},
		{name: "bad mode", args: []string{"run", "-mode", "fast"}, wantErr: true},
		{name: "bad source", args: []string{"metrics", "-source", "mail"}, wantErr: true},
		{name: "flag not for command", args: []string{"train", "-mode", "local"}, wantErr: true},
		{name: "stray args", args: []string{"sync", "extra"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseCommand(tc.args, io.Discard)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("want error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCommand: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
