// Package config loads boardsync settings from CUE.
//
// A config file is unified with the embedded #Config schema, which carries
// every default and constraint. An absent file yields the defaults; a field
// the schema does not know is an error.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/soa-bra/glass-project-flow-sub021/internal/collab"
	"github.com/soa-bra/glass-project-flow-sub021/internal/engine"
	"github.com/soa-bra/glass-project-flow-sub021/internal/geom"
)

//go:embed schema.cue
var schemaSource []byte

// Error codes.
const (
	ErrCodeRead     = "C001"
	ErrCodeSchema   = "C002"
	ErrCodeCompile  = "C003"
	ErrCodeInvalid  = "C004"
	ErrCodeDuration = "C005"
)

// Error is a config problem, positioned in the offending file when CUE
// knows where.
type Error struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Config is the resolved configuration.
type Config struct {
	Board  Board
	Engine Engine
	Collab Collab
	Relay  Relay
	Store  Store
}

// Board holds the coordinate kernel settings.
type Board struct {
	ZoomMin        float64
	ZoomMax        float64
	HitSlop        float64
	ViewportWidth  float64
	ViewportHeight float64
}

// Engine bounds the operation engine's buffers.
type Engine struct {
	UndoLimit    int
	PendingLimit int
	PendingTTL   time.Duration
}

// Collab configures a participant session.
type Collab struct {
	Board       string
	Heartbeat   time.Duration
	PresenceTTL time.Duration
	DedupTTL    time.Duration
	DedupLimit  int
}

// Relay configures the relay server and how participants reach it.
type Relay struct {
	Addr             string
	URL              string
	RedisAddr        string
	Instance         string
	MDNS             bool
	MetricsNamespace string
}

// Store selects the relay's op log backend.
type Store struct {
	Driver string
	Path   string
}

// raw mirrors #Config for decoding; durations are still strings.
type raw struct {
	Board struct {
		ZoomMin  float64 `json:"zoomMin"`
		ZoomMax  float64 `json:"zoomMax"`
		HitSlop  float64 `json:"hitSlop"`
		Viewport struct {
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		} `json:"viewport"`
	} `json:"board"`
	Engine struct {
		UndoLimit    int    `json:"undoLimit"`
		PendingLimit int    `json:"pendingLimit"`
		PendingTTL   string `json:"pendingTTL"`
	} `json:"engine"`
	Collab struct {
		Board       string `json:"board"`
		Heartbeat   string `json:"heartbeat"`
		PresenceTTL string `json:"presenceTTL"`
		DedupTTL    string `json:"dedupTTL"`
		DedupLimit  int    `json:"dedupLimit"`
	} `json:"collab"`
	Relay struct {
		Addr             string `json:"addr"`
		URL              string `json:"url"`
		RedisAddr        string `json:"redisAddr"`
		Instance         string `json:"instance"`
		MDNS             bool   `json:"mdns"`
		MetricsNamespace string `json:"metricsNamespace"`
	} `json:"relay"`
	Store struct {
		Driver string `json:"driver"`
		Path   string `json:"path"`
	} `json:"store"`
}

// Default returns the schema defaults.
func Default() (Config, error) {
	return Parse("", nil)
}

// Load reads and resolves the CUE file at path. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{Code: ErrCodeRead, Message: fmt.Sprintf("read config: %v", err)}
	}
	return Parse(path, data)
}

// Parse resolves CUE source against the schema. filename is used in error
// positions only.
func Parse(filename string, src []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, cueError(ErrCodeSchema, err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if len(src) > 0 {
		user := ctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return Config{}, cueError(ErrCodeCompile, err)
		}
		v = v.Unify(user)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, cueError(ErrCodeInvalid, err)
	}

	var r raw
	if err := v.Decode(&r); err != nil {
		return Config{}, cueError(ErrCodeInvalid, err)
	}
	return r.resolve()
}

func (r raw) resolve() (Config, error) {
	var errs []error
	dur := func(field, s string) time.Duration {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			errs = append(errs, &Error{Code: ErrCodeDuration, Message: fmt.Sprintf("%s: %q is not a positive duration", field, s)})
		}
		return d
	}

	cfg := Config{
		Board: Board{
			ZoomMin:        r.Board.ZoomMin,
			ZoomMax:        r.Board.ZoomMax,
			HitSlop:        r.Board.HitSlop,
			ViewportWidth:  r.Board.Viewport.Width,
			ViewportHeight: r.Board.Viewport.Height,
		},
		Engine: Engine{
			UndoLimit:    r.Engine.UndoLimit,
			PendingLimit: r.Engine.PendingLimit,
			PendingTTL:   dur("engine.pendingTTL", r.Engine.PendingTTL),
		},
		Collab: Collab{
			Board:       r.Collab.Board,
			Heartbeat:   dur("collab.heartbeat", r.Collab.Heartbeat),
			PresenceTTL: dur("collab.presenceTTL", r.Collab.PresenceTTL),
			DedupTTL:    dur("collab.dedupTTL", r.Collab.DedupTTL),
			DedupLimit:  r.Collab.DedupLimit,
		},
		Relay: Relay{
			Addr:             r.Relay.Addr,
			URL:              r.Relay.URL,
			RedisAddr:        r.Relay.RedisAddr,
			Instance:         r.Relay.Instance,
			MDNS:             r.Relay.MDNS,
			MetricsNamespace: r.Relay.MetricsNamespace,
		},
		Store: Store{
			Driver: r.Store.Driver,
			Path:   r.Store.Path,
		},
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// KernelOptions returns the geom kernel options for c.
func (c Config) KernelOptions() []geom.KernelOption {
	return []geom.KernelOption{
		geom.WithZoomBounds(c.Board.ZoomMin, c.Board.ZoomMax),
		geom.WithHitSlop(c.Board.HitSlop),
	}
}

// Viewport returns the configured initial viewport.
func (c Config) Viewport() geom.Viewport {
	return geom.Viewport{Width: c.Board.ViewportWidth, Height: c.Board.ViewportHeight}
}

// EngineOptions returns the engine options for c.
func (c Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithUndoLimit(c.Engine.UndoLimit),
		engine.WithPendingLimits(c.Engine.PendingLimit, c.Engine.PendingTTL),
	}
}

// SessionConfig returns the collab session settings for c.
func (c Config) SessionConfig() collab.Config {
	cfg := collab.DefaultConfig()
	cfg.Board = c.Collab.Board
	cfg.HeartbeatInterval = c.Collab.Heartbeat
	cfg.PresenceTTL = c.Collab.PresenceTTL
	cfg.DedupTTL = c.Collab.DedupTTL
	cfg.DedupLimit = c.Collab.DedupLimit
	return cfg
}

// cueError converts a CUE error to an Error at its first position.
func cueError(code string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Code: code, Message: err.Error()}
	}
	first := errs[0]
	out := &Error{Code: code, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		out.Pos = positions[0]
	}
	return out
}
