package config

import "testing"

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: "5432", User: "u", Password: "pw", DBName: "crewline"}
	want := "host=db port=5432 user=u password=pw dbname=crewline sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("DSN = %q", got)
	}
	p.URL = "postgres://u:pw@db:5432/crewline"
	if got := p.DSN(); got != p.URL {
		t.Fatalf("url should win, got %q", got)
	}
}

func TestTransportNormalizeDefaults(t *testing.T) {
	tr := TransportConfig{}.Normalize()
	if tr.ConnectTimeout <= 0 || tr.ReadTimeout <= 0 || tr.CardMaxRetries <= 0 || tr.RetryBackoff <= 0 {
		t.Fatalf("defaults not applied: %+v", tr)
	}
}

func TestRoutingModelFor(t *testing.T) {
	r := LLMRoutingConfig{Review: "gpt-large", Fallback: "gpt-small"}
	if got := r.ModelFor("review"); got != "gpt-large" {
		t.Fatalf("review = %q", got)
	}
	if got := r.ModelFor("synthesis"); got != "gpt-small" {
		t.Fatalf("fallback = %q", got)
	}
}
