package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/time/rate"

	"github.com/jxucoder/refactorgen/model"
)

// ErrOracle is matched by every failure returned from the Gateway.
var ErrOracle = errors.New("oracle failure")

// Failure is a tagged oracle error.
type Failure struct {
	Op      string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("oracle %s: %s: %v", f.Op, f.Message, f.Err)
	}
	return fmt.Sprintf("oracle %s: %s", f.Op, f.Message)
}

func (f *Failure) Unwrap() []error {
	if f.Err == nil {
		return []error{ErrOracle}
	}
	return []error{ErrOracle, f.Err}
}

// Operation names, used in failures and metrics.
const (
	OpSuggest   = "suggest"
	OpCorrect   = "correct"
	OpValidate  = "validate"
	OpOptimize  = "optimize"
	OpFindIssue = "find_issue"
)

// DefaultTimeout bounds each oracle call.
const DefaultTimeout = 90 * time.Second

// Suggestion is the first candidate replacement for a snippet.
type Suggestion struct {
	Replacement string `json:"refactored_code"`
	Explanation string `json:"explanation"`
}

// Correction is the single follow-up replacement after a failed validation.
type Correction struct {
	Replacement string `json:"corrected_code"`
}

// Finding is the most critical issue found in one file.
type Finding struct {
	IssueFound  bool   `json:"issue_found"`
	Description string `json:"description"`
	Snippet     string `json:"code_snippet"`
}

// ValidationResult is the outcome of running the validation procedure.
type ValidationResult struct {
	Passed     bool
	Diagnostic string
}

// Recorder receives call outcomes. metrics.Metrics implements it.
type Recorder interface {
	ObserveOracle(op, outcome string)
	ObserveValidation(d time.Duration, passed bool)
}

// Options configures a Gateway.
type Options struct {
	// Timeout bounds each completion call. Zero means DefaultTimeout.
	Timeout time.Duration
	// ValidationTimeout bounds each validation run. Zero leaves it to the Validator.
	ValidationTimeout time.Duration
	// RatePerMinute limits completion calls. Zero disables limiting.
	RatePerMinute float64
	Burst         int
	Recorder      Recorder
	Logger        *slog.Logger
}

// Gateway is the single boundary to the suggestion, correction and validation
// services.
type Gateway struct {
	client            Client
	validator         Validator
	timeout           time.Duration
	validationTimeout time.Duration
	limiter           *rate.Limiter
	recorder          Recorder
	logger            *slog.Logger
}

// NewGateway creates a Gateway. A nil client makes every completion call fail;
// a nil validator makes every validation pass as skipped.
func NewGateway(client Client, validator Validator, opts Options) *Gateway {
	g := &Gateway{
		client:            client,
		validator:         validator,
		timeout:           opts.Timeout,
		validationTimeout: opts.ValidationTimeout,
		recorder:          opts.Recorder,
		logger:            opts.Logger,
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if opts.RatePerMinute > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RatePerMinute/60), burst)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// ProposeSuggestion asks for a replacement for snippet.
func (g *Gateway) ProposeSuggestion(ctx context.Context, snippet string) (*Suggestion, error) {
	var s Suggestion
	err := g.complete(ctx, OpSuggest, Request{
		System:      SuggestionPrompt,
		User:        snippet,
		Temperature: 0.2,
		JSON:        true,
	}, suggestionSchema, &s, func() error { return nonEmpty(s.Replacement) })
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ProposeCorrection asks for one corrected replacement given the failed
// replacement and the validation diagnostic.
func (g *Gateway) ProposeCorrection(ctx context.Context, snippet, failed, diagnostic string) (*Correction, error) {
	user := fmt.Sprintf("ORIGINAL CODE:\n```\n%s\n```\n\nFAILED PATCH:\n```\n%s\n```\n\nTEST FAILURE OUTPUT:\n```\n%s\n```",
		snippet, failed, model.TruncateHead(diagnostic, 8000))
	var c Correction
	err := g.complete(ctx, OpCorrect, Request{
		System:      CorrectionPrompt,
		User:        user,
		Temperature: 0.4,
		JSON:        true,
	}, correctionSchema, &c, func() error { return nonEmpty(c.Replacement) })
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Optimize asks for an asymptotically better version of code.
func (g *Gateway) Optimize(ctx context.Context, code string) (*model.OptimizationResult, error) {
	var res model.OptimizationResult
	err := g.complete(ctx, OpOptimize, Request{
		System:      OptimizationPrompt,
		User:        code,
		Temperature: 0.1,
		JSON:        true,
	}, optimizationSchema, &res, nil)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// FindIssue asks for the single most critical issue in one file.
func (g *Gateway) FindIssue(ctx context.Context, content, language string) (*Finding, error) {
	user := fmt.Sprintf("Analyze the following %s code:\n\n```%s\n%s\n```", language, strings.ToLower(language), content)
	var f Finding
	err := g.complete(ctx, OpFindIssue, Request{
		System:      FindIssuePrompt,
		User:        user,
		Temperature: 0.1,
		JSON:        true,
	}, findingSchema, &f, nil)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate runs the project-wide validation procedure. It never fails: a
// crash or timeout is reported as a failed validation.
func (g *Gateway) Validate(ctx context.Context, repoPath string) (res ValidationResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Validation panicked", "repo", repoPath, "panic", r)
			res = ValidationResult{Passed: false, Diagnostic: fmt.Sprintf("validation crashed: %v", r)}
		}
		if g.recorder != nil {
			g.recorder.ObserveValidation(time.Since(start), res.Passed)
			g.recorder.ObserveOracle(OpValidate, outcome(res.Passed))
		}
	}()

	if g.validator == nil {
		return ValidationResult{Passed: true, Diagnostic: "skipped: no validator configured"}
	}

	if g.validationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.validationTimeout)
		defer cancel()
	}

	passed, diag := g.validator.Validate(ctx, repoPath)
	if ctx.Err() != nil && passed {
		return ValidationResult{Passed: false, Diagnostic: fmt.Sprintf("validation interrupted: %v", ctx.Err())}
	}
	return ValidationResult{Passed: passed, Diagnostic: diag}
}

// complete runs one completion call, decodes the reply into out and applies
// check to the decoded value. Each call records exactly one outcome.
func (g *Gateway) complete(ctx context.Context, op string, req Request, schema *jsonschema.Schema, out any, check func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Failure{Op: op, Message: fmt.Sprintf("client panicked: %v", r)}
		}
		if err != nil {
			err = g.fail(op, err)
		} else if g.recorder != nil {
			g.recorder.ObserveOracle(op, "ok")
		}
	}()

	if g.client == nil {
		return &Failure{Op: op, Message: "no oracle client configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return &Failure{Op: op, Message: "rate limit wait", Err: err}
		}
	}

	raw, err := g.client.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Failure{Op: op, Message: fmt.Sprintf("timed out after %s", g.timeout), Err: err}
		}
		return &Failure{Op: op, Message: "request failed", Err: err}
	}
	if err := decode(raw, schema, out); err != nil {
		return &Failure{Op: op, Message: "malformed response", Err: err}
	}
	if check != nil {
		if err := check(); err != nil {
			return &Failure{Op: op, Message: err.Error()}
		}
	}
	return nil
}

var errEmptyReplacement = errors.New("empty replacement")

func nonEmpty(replacement string) error {
	if strings.TrimSpace(replacement) == "" {
		return errEmptyReplacement
	}
	return nil
}

// fail normalizes err into a *Failure, logs it and records the outcome.
func (g *Gateway) fail(op string, err error) error {
	var f *Failure
	if !errors.As(err, &f) {
		f = &Failure{Op: op, Message: "unexpected error", Err: err}
	}
	g.logger.Warn("Oracle call failed", "op", op, "error", f.Error())
	if g.recorder != nil {
		g.recorder.ObserveOracle(op, "error")
	}
	return f
}

func outcome(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}
