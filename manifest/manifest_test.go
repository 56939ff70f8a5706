package manifest_test

import (
	"strings"
	"testing"

	"github.com/modera/mfcloud/manifest"
)

const sampleManifest = `
services:
  web:
    image: modera/web:latest
    ports:
      - "8080:80"
    volumes:
      - "data:/var/www"
    env:
      DEBUG: "false"
    wait: 5
    web: true
  db:
    image: postgres:16
    volumes:
      - "pgdata:/var/lib/postgresql/data"
    wait: false
volumes:
  data: /srv/myapp/data
  pgdata: /srv/myapp/pg
hosts:
  - db.internal
`

func TestParse_BuildsServicesAndVolumes(t *testing.T) {
	cfg, err := manifest.Parse([]byte(sampleManifest), "myapp")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	svcs := cfg.Services()
	if len(svcs) != 2 {
		t.Fatalf("got %d services, want 2", len(svcs))
	}

	web, ok := svcs["web"]
	if !ok {
		t.Fatal("missing web service")
	}
	if web.Qualified() != "web.myapp" {
		t.Errorf("Qualified: got %q", web.Qualified())
	}
	if !web.Web {
		t.Error("expected web.Web=true")
	}
	if !web.Wait.Enabled || web.Wait.Seconds != 5 {
		t.Errorf("Wait: got %+v", web.Wait)
	}
	if len(web.Ports) != 1 || web.Ports[0].HostPort != "8080" || web.Ports[0].ContainerPort != "80" {
		t.Errorf("Ports: got %+v", web.Ports)
	}
	if len(web.Volumes) != 1 || web.Volumes[0].Source != "data" || web.Volumes[0].Target != "/var/www" {
		t.Errorf("Volumes: got %+v", web.Volumes)
	}

	db, ok := svcs["db"]
	if !ok {
		t.Fatal("missing db service")
	}
	if db.Wait.Enabled {
		t.Error("expected db.Wait disabled")
	}

	if got := cfg.Volumes()["data"]; got != "/srv/myapp/data" {
		t.Errorf("Volumes()[data]: got %q", got)
	}
	if len(cfg.Hosts()) != 1 || cfg.Hosts()[0] != "db.internal" {
		t.Errorf("Hosts: got %v", cfg.Hosts())
	}
}

func TestConfig_Service_ResolvesQualifiedAndBareNames(t *testing.T) {
	cfg, err := manifest.Parse([]byte(sampleManifest), "myapp")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, err := cfg.Service("web.myapp"); err != nil {
		t.Errorf("Service(web.myapp): %v", err)
	}
	if _, err := cfg.Service("web"); err != nil {
		t.Errorf("Service(web): %v", err)
	}
	if _, err := cfg.Service("web.otherapp"); err == nil {
		t.Error("expected error for mismatched app")
	}
	if _, err := cfg.Service("ghost"); err == nil {
		t.Error("expected error for unknown service")
	}
}

func TestParse_RejectsDuplicateServiceKeys(t *testing.T) {
	const dup = `
services:
  web:
    image: a
  web:
    image: b
`
	_, err := manifest.Parse([]byte(dup), "myapp")
	if err == nil {
		t.Fatal("expected duplicate key error")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error: got %q, want mention of duplicate key", err.Error())
	}
}

func TestParse_RejectsMissingImage(t *testing.T) {
	const bad = `
services:
  web:
    ports:
      - "80:80"
`
	_, err := manifest.Parse([]byte(bad), "myapp")
	if err == nil {
		t.Fatal("expected error for missing image")
	}
}

func TestParse_RejectsWaitTrue(t *testing.T) {
	const bad = `
services:
  web:
    image: a
    wait: true
`
	_, err := manifest.Parse([]byte(bad), "myapp")
	if err == nil {
		t.Fatal("expected error for wait: true")
	}
}

func TestService_VolumeLookup(t *testing.T) {
	cfg, err := manifest.Parse([]byte(sampleManifest), "myapp")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	web, _ := cfg.Service("web")
	if _, ok := web.Volume("data"); !ok {
		t.Error("expected to find volume named data")
	}
	if _, ok := web.Volume("nope"); ok {
		t.Error("did not expect to find volume named nope")
	}
}
