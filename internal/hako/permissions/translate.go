package permissions

import (
	"log/slog"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/bdobrica/Hako/internal/hako/runtime"
)

// Network modes produced by Translate.
const (
	NetworkNone   = "none"
	NetworkBridge = "bridge"
)

// Translator converts profiles into runtime sandbox configuration.
type Translator struct {
	// BaseDir anchors relative mount sources. Relative sources are skipped
	// when it is empty.
	BaseDir string
	Logger  *slog.Logger
}

// Translate maps p onto a SandboxConfig. It never fails: declarations that
// cannot be mounted are skipped and logged.
func (t Translator) Translate(p *Profile) runtime.SandboxConfig {
	log := t.Logger
	if log == nil {
		log = slog.Default()
	}

	cfg := runtime.SandboxConfig{
		NetworkMode: NetworkNone,
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges:true"},
	}
	if p == nil {
		return cfg
	}

	byTarget := make(map[string]int)
	add := func(decl string, readOnly bool) {
		m, ok := t.parseMount(decl, log)
		if !ok {
			return
		}
		if i, seen := byTarget[m.Target]; seen {
			if !readOnly {
				cfg.Mounts[i].ReadOnly = false
			}
			return
		}
		m.ReadOnly = readOnly
		byTarget[m.Target] = len(cfg.Mounts)
		cfg.Mounts = append(cfg.Mounts, m)
	}
	for _, decl := range p.Read {
		add(decl, true)
	}
	for _, decl := range p.Write {
		add(decl, false)
	}

	if p.Network != nil {
		cfg.NetworkMode = NetworkBridge
		out := p.Network.Outbound
		if !out.InsecureAllowAll && (len(out.AllowHost) > 0 || len(out.AllowPort) > 0) {
			log.Warn("outbound allow lists are not enforced by the bridge network",
				"allow_host", out.AllowHost, "allow_port", out.AllowPort)
		}
	}
	return cfg
}

func (t Translator) parseMount(decl string, log *slog.Logger) (runtime.Mount, bool) {
	decl = strings.TrimSpace(decl)
	if decl == "" {
		return runtime.Mount{}, false
	}
	if strings.Contains(decl, "://") {
		log.Warn("skipping resource URI in permission profile", "entry", decl)
		return runtime.Mount{}, false
	}

	source, target := decl, decl
	if src, dst, ok := strings.Cut(decl, ":"); ok {
		source, target = src, dst
	}
	if source == "" || target == "" {
		log.Warn("skipping invalid mount declaration", "entry", decl)
		return runtime.Mount{}, false
	}
	if !filepath.IsAbs(target) {
		log.Warn("skipping mount with relative target", "entry", decl)
		return runtime.Mount{}, false
	}

	if !filepath.IsAbs(source) {
		if t.BaseDir == "" {
			log.Warn("skipping relative mount source without base directory", "entry", decl)
			return runtime.Mount{}, false
		}
		resolved, err := securejoin.SecureJoin(t.BaseDir, source)
		if err != nil {
			log.Warn("skipping unresolvable mount source", "entry", decl, "err", err)
			return runtime.Mount{}, false
		}
		source = resolved
	}

	return runtime.Mount{
		Source: filepath.Clean(source),
		Target: filepath.Clean(target),
	}, true
}
