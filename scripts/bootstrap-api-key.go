// Command bootstrap-api-key ensures a user exists and issues an API key for it.
// The plaintext key is printed once and never stored.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/urfave/cli/v3"

	"github.com/recipebox/recipebox/internal/auth"
	"github.com/recipebox/recipebox/internal/model"
	"github.com/recipebox/recipebox/internal/repository"
)

type options struct {
	databaseURL    string
	email          string
	name           string
	scopes         []string
	tier           string
	env            string
	format         string
	revokeExisting bool
}

type output struct {
	UserID    string   `json:"user_id"`
	Email     string   `json:"email"`
	KeyID     string   `json:"key_id"`
	Key       string   `json:"key"`
	KeyPrefix string   `json:"key_prefix"`
	Scopes    []string `json:"scopes"`
	Revoked   int      `json:"revoked,omitempty"`
}

func main() {
	cmd := newCommand(func(ctx context.Context, opts *options) error {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return run(ctx, opts, os.Stdout)
	})

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newCommand builds the CLI. action receives validated options.
func newCommand(action func(ctx context.Context, opts *options) error) *cli.Command {
	return &cli.Command{
		Name:  "bootstrap-api-key",
		Usage: "Ensure a user exists and issue an API key for it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL connection string",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:  "email",
				Value: "cook@recipebox.local",
				Usage: "Email of the user that owns the key",
			},
			&cli.StringFlag{
				Name:  "name",
				Value: "bootstrap",
				Usage: "API key name",
			},
			&cli.StringFlag{
				Name:  "scopes",
				Value: "read,write",
				Usage: "Comma-separated scopes (read,write,admin)",
			},
			&cli.StringFlag{
				Name:  "tier",
				Value: model.TierFree,
				Usage: "Rate limit tier (free,pro,unlimited)",
			},
			&cli.StringFlag{
				Name:  "env",
				Value: auth.EnvLive,
				Usage: "Key environment (live,test)",
			},
			&cli.StringFlag{
				Name:  "format",
				Value: "plain",
				Usage: "Output format: plain or json",
			},
			&cli.BoolFlag{
				Name:  "revoke-existing",
				Usage: "Revoke the user's other active keys",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts, err := newOptions(
				cmd.String("database-url"),
				cmd.String("email"),
				cmd.String("name"),
				cmd.String("scopes"),
				cmd.String("tier"),
				cmd.String("env"),
				cmd.String("format"),
				cmd.Bool("revoke-existing"),
			)
			if err != nil {
				return err
			}
			return action(ctx, opts)
		},
	}
}

func newOptions(databaseURL, email, name, scopes, tier, env, format string, revokeExisting bool) (*options, error) {
	opts := &options{
		databaseURL:    databaseURL,
		email:          email,
		name:           name,
		tier:           tier,
		env:            env,
		format:         strings.ToLower(format),
		revokeExisting: revokeExisting,
	}

	if opts.databaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if opts.email == "" {
		return nil, errors.New("email is required")
	}
	if !model.IsValidTier(opts.tier) {
		return nil, fmt.Errorf("invalid tier: %s", opts.tier)
	}
	if !auth.ValidEnv(opts.env) {
		return nil, fmt.Errorf("invalid env: %s", opts.env)
	}
	if opts.format != "plain" && opts.format != "json" {
		return nil, errors.New("invalid format; use plain or json")
	}

	parsed, err := parseScopes(scopes)
	if err != nil {
		return nil, err
	}
	opts.scopes = parsed

	return opts, nil
}

func parseScopes(input string) ([]string, error) {
	var scopes []string
	for _, part := range strings.Split(input, ",") {
		scope := strings.TrimSpace(part)
		if scope == "" || slices.Contains(scopes, scope) {
			continue
		}
		if !model.IsValidScope(scope) {
			return nil, fmt.Errorf("invalid scope: %s", scope)
		}
		scopes = append(scopes, scope)
	}
	if len(scopes) == 0 {
		return []string{model.ScopeRead, model.ScopeWrite}, nil
	}
	return scopes, nil
}

func run(ctx context.Context, opts *options, w io.Writer) error {
	repo, err := repository.New(ctx, opts.databaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer repo.Close()

	user, err := repo.GetOrCreateUser(ctx, &model.User{
		ID:    ulid.Make().String(),
		Email: opts.email,
	})
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}

	revoked := 0
	if opts.revokeExisting {
		existing, err := repo.ListAPIKeysByUserID(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("list api keys: %w", err)
		}
		for _, k := range existing {
			if k.IsRevoked() {
				continue
			}
			if err := repo.RevokeAPIKey(ctx, k.ID); err != nil && !errors.Is(err, repository.ErrAPIKeyNotFound) {
				return fmt.Errorf("revoke api key %s: %w", k.ID, err)
			}
			revoked++
		}
	}

	generated, err := auth.GenerateAPIKey(opts.env)
	if err != nil {
		return fmt.Errorf("generate api key: %w", err)
	}

	apiKey := &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        user.ID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        opts.scopes,
		RateLimitTier: opts.tier,
		Name:          opts.name,
		CreatedAt:     time.Now().UTC(),
	}
	if err := repo.CreateAPIKey(ctx, apiKey); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	out := output{
		UserID:    user.ID,
		Email:     user.Email,
		KeyID:     apiKey.ID,
		Key:       generated.Plaintext,
		KeyPrefix: apiKey.KeyPrefix,
		Scopes:    apiKey.Scopes,
		Revoked:   revoked,
	}
	return writeOutput(w, opts.format, out)
}

func writeOutput(w io.Writer, format string, out output) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	_, err := fmt.Fprintln(w, out.Key)
	return err
}
