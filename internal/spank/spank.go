// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package spank implements the SPANK-style plugin stack (§4.7): ordered
// hook providers, required/optional failure semantics, and the
// case-insensitive option cache merged into the global command-line
// surface.
package spank

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jontk/slurm-controller/internal/types"
	"github.com/jontk/slurm-controller/pkg/logging"
)

// HookPoint names one of the step transitions a provider may hook.
type HookPoint string

const (
	HookInit          HookPoint = "init"
	HookUserInit      HookPoint = "user_init"
	HookTaskInit      HookPoint = "task_init"
	HookTaskPostFork  HookPoint = "task_post_fork"
	HookTaskExit      HookPoint = "task_exit"
	HookExit          HookPoint = "exit"
)

// Context is the shared {job, task} state passed to every hook.
type Context struct {
	Job    *types.Job
	TaskID int
}

// HookFunc is a single provider's implementation of a hook point. A
// negative return value signals failure.
type HookFunc func(ctx *Context) int

// Provider is one named plugin contributing a subset of hooks and
// command-line options.
type Provider struct {
	Name     string
	Required bool
	Hooks    map[HookPoint]HookFunc
	Options  []string // option names this provider contributes
}

// Option is a merged command-line option: Active is false when a
// duplicate name arrived after the first registration (§4.7) -- remote
// nodes still need to parse it, but only the first is honoured.
type Option struct {
	Name     string
	Provider string
	Active   bool
}

var foldCase = cases.Lower(language.Und)

func normalize(name string) string { return foldCase.String(name) }

// Stack is the ordered sequence of providers declared by configuration.
type Stack struct {
	providers []Provider
	options   map[string]*Option // normalized name -> option
	logger    logging.Logger
}

// NewStack builds a stack from providers in the order they are to be
// invoked, merging their declared options case-insensitively.
func NewStack(providers []Provider) *Stack {
	s := &Stack{
		providers: providers,
		options:   make(map[string]*Option),
		logger:    logging.NoOpLogger{},
	}
	for _, p := range providers {
		for _, opt := range p.Options {
			key := normalize(opt)
			if _, exists := s.options[key]; exists {
				s.options[key+"\x00"+p.Name] = &Option{Name: opt, Provider: p.Name, Active: false}
				continue
			}
			s.options[key] = &Option{Name: opt, Provider: p.Name, Active: true}
		}
	}
	return s
}

// SetLogger installs the logger used to record optional-provider hook
// failures. A nil logger restores the no-op default.
func (s *Stack) SetLogger(logger logging.Logger) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	s.logger = logger
}

// Option looks up a merged option by name, case-insensitively. It returns
// the first (active) registration; disabled duplicates are listed by
// Options only.
func (s *Stack) Option(name string) (*Option, bool) {
	opt, ok := s.options[normalize(name)]
	return opt, ok
}

// Options returns every merged option, active and disabled alike.
func (s *Stack) Options() []*Option {
	out := make([]*Option, 0, len(s.options))
	for _, o := range s.options {
		out = append(out, o)
	}
	return out
}

// Run invokes every provider's hook for the given point, in declaration
// order. A required provider's negative return aborts the run and
// propagates failure immediately; an optional provider's failure is
// logged and the run continues -- it never surfaces in the returned error,
// so a caller can treat any non-nil Run error as a required-provider abort
// (§4.7).
func (s *Stack) Run(point HookPoint, ctx *Context) error {
	for _, p := range s.providers {
		hook, ok := p.Hooks[point]
		if !ok {
			continue
		}
		rc := hook(ctx)
		if rc < 0 {
			if p.Required {
				return fmt.Errorf("provider %q hook %q returned %d", p.Name, point, rc)
			}
			s.logger.Error("optional spank provider hook failed, continuing",
				"provider", p.Name, "hook", point, "rc", rc)
		}
	}
	return nil
}
