package container

import (
	"testing"

	"github.com/modera/mfcloud/manifest"
)

func TestBuildPortBindings_ExplicitHostPort(t *testing.T) {
	bindings, exposed := buildPortBindings([]manifest.PortMapping{
		{HostPort: "8080", ContainerPort: "80", Protocol: "tcp"},
	})
	if _, ok := exposed["80/tcp"]; !ok {
		t.Fatalf("exposed ports: got %v", exposed)
	}
	b, ok := bindings["80/tcp"]
	if !ok || len(b) != 1 || b[0].HostPort != "8080" {
		t.Errorf("bindings: got %v", bindings)
	}
}

func TestBuildPortBindings_HostPortChosenByEngine(t *testing.T) {
	_, exposed := buildPortBindings([]manifest.PortMapping{
		{ContainerPort: "80"},
	})
	if _, ok := exposed["80/tcp"]; !ok {
		t.Fatalf("expected container port exposed, got %v", exposed)
	}
}

func TestBuildBinds_SkipsAnonymousVolumes(t *testing.T) {
	svc := &manifest.Service{
		Volumes: []manifest.VolumeMount{
			{Source: "/srv/data", Target: "/var/data"},
			{Target: "/tmp/scratch"},
		},
	}
	binds := buildBinds(svc)
	if len(binds) != 1 || binds[0] != "/srv/data:/var/data" {
		t.Errorf("binds: got %v", binds)
	}
}

func TestVolumesFromNames_QualifiesSiblingServices(t *testing.T) {
	svc := &manifest.Service{App: "myapp", VolumesFrom: []string{"db"}}
	got := volumesFromNames(svc, Name("myapp", "web"))
	want := Name("myapp", "db")
	if len(got) != 1 || got[0] != want {
		t.Errorf("volumesFromNames: got %v, want [%s]", got, want)
	}
}

func TestEnvSlice_SortedDeterministicOrder(t *testing.T) {
	got := envSlice(map[string]string{"B": "2", "A": "1"})
	if len(got) != 2 || got[0] != "A=1" || got[1] != "B=2" {
		t.Errorf("envSlice: got %v", got)
	}
}

func TestState_PublicPort(t *testing.T) {
	s := State{Ports: []PortBinding{{ContainerPort: "80", HostPort: "32768", Protocol: "tcp"}}}
	port, ok := s.PublicPort("80", "tcp")
	if !ok || port != "32768" {
		t.Errorf("PublicPort: got %q, %v", port, ok)
	}
	if _, ok := s.PublicPort("443", "tcp"); ok {
		t.Error("expected no match for 443/tcp")
	}
}

func TestName_Format(t *testing.T) {
	if got := Name("myapp", "web"); got != "mfcloud-myapp-web" {
		t.Errorf("Name: got %q", got)
	}
}
