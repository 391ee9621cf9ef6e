package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bjaus/lessweb"
	"github.com/bjaus/lessweb/config"
	"github.com/bjaus/lessweb/redismod"
)

// Settings is the petstore section of the configuration.
type Settings struct {
	APIKey    string  `mapstructure:"api_key"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
	MaxBody   int64   `mapstructure:"max_body"`
}

func newSettings(cfg *config.Config) (*Settings, error) {
	s := &Settings{Burst: 10, MaxBody: 1 << 20}
	if err := cfg.Section("petstore", s); err != nil && !errors.Is(err, config.ErrSectionNotFound) {
		return nil, err
	}
	return s, nil
}

// apiKeyGuard rejects writes without the configured API key. Reads and
// emitted events pass through.
type apiKeyGuard struct {
	settings *Settings
}

func newAPIKeyGuard(s *Settings) *apiKeyGuard { return &apiKeyGuard{settings: s} }

func (g *apiKeyGuard) OnRequest(ctx context.Context, r *http.Request, next lessweb.Next) (any, error) {
	if _, ok := lessweb.EventName(r); ok || g.settings.APIKey == "" || r.Method == http.MethodGet {
		return next(ctx)
	}
	if r.Header.Get("X-Api-Key") != g.settings.APIKey {
		return nil, lessweb.Error(http.StatusUnauthorized, "missing or invalid API key")
	}
	return next(ctx)
}

// Audit logs store changes with the request that caused them.
type Audit struct {
	logger *zap.Logger
}

func newAudit(logger *zap.Logger, r *http.Request) *Audit {
	fields := []zap.Field{zap.String("path", r.URL.Path)}
	if id := lessweb.GetRequestID(r); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if name, ok := lessweb.EventName(r); ok {
		fields = append(fields, zap.String("event", name))
	}
	return &Audit{logger: logger.With(fields...)}
}

// Record logs one change.
func (a *Audit) Record(action string, id PetID) {
	a.logger.Info("audit", zap.String("action", action), zap.Int("pet_id", int(id)))
}

// Adopted is the payload of the pet_adopted event.
type Adopted struct {
	ID   PetID  `json:"id"`
	Name string `json:"name"`
}

// Visits reports how often a pet's page was visited.
type Visits struct {
	PetID PetID `json:"pet_id"`
	Count int64 `json:"count"`
}

func newApp(cfg *config.Config, logger *zap.Logger) (*lessweb.App, error) {
	app := lessweb.New(append(cfg.AppOptions(),
		lessweb.WithLogger(logger),
		lessweb.WithNamingPolicy(lessweb.MethodPrefixNaming),
	)...)

	settings, err := newSettings(cfg)
	if err != nil {
		return nil, err
	}

	app.Use(lessweb.Recovery(logger), lessweb.RequestID(), lessweb.Logger(logger), lessweb.BodyLimit(settings.MaxBody))
	if settings.RateLimit > 0 {
		app.Use(lessweb.RateLimit(lessweb.RateLimitConfig{Rate: settings.RateLimit, Burst: settings.Burst, Logger: logger}))
	}

	register := []func() error{
		func() error { return lessweb.Supply(app.Container(), cfg) },
		func() error { return lessweb.Supply(app.Container(), settings) },
		func() error { return app.RegisterModule(NewStore) },
		func() error { return app.RegisterBean(newAudit) },
		func() error { return app.RegisterMiddleware(newAPIKeyGuard) },
	}
	for _, fn := range register {
		if err := fn(); err != nil {
			return nil, err
		}
	}

	handlers := petHandlers()
	if cfg.Get(redismod.Section) != nil {
		if err := redismod.Register(app); err != nil {
			return nil, err
		}
		handlers = append(handlers, visitHandler())
	}
	for _, h := range handlers {
		if err := app.Handle(h); err != nil {
			return nil, fmt.Errorf("register %s: %w", h.Name, err)
		}
	}
	return app, nil
}

func petHandlers() []lessweb.Handler {
	store := lessweb.Inject[*Store]("store")
	audit := lessweb.Inject[*Audit]("audit")
	petID := lessweb.Named("pet_id", petIDType)

	return []lessweb.Handler{
		{
			Name:     "health",
			Endpoint: lessweb.Any("/health"),
			Func: func(context.Context, *lessweb.Args) (any, error) {
				return map[string]string{"status": "ok"}, nil
			},
		},
		{
			Name:     "get_pets",
			Endpoint: lessweb.Get("/pets"),
			Params: []lessweb.Param{
				lessweb.Named("species", lessweb.Optional(speciesType)),
				lessweb.Named("tags", lessweb.Optional(lessweb.ListOf(lessweb.String))),
				lessweb.Named("born_after", lessweb.Optional(lessweb.Date)),
				lessweb.Named("order", lessweb.Literal("asc", "desc"), lessweb.Default("asc")),
				lessweb.Named("limit", lessweb.Int, lessweb.Default(20)),
				store,
			},
			Func: func(_ context.Context, args *lessweb.Args) (any, error) {
				return lessweb.Arg[*Store](args, "store").List(Filter{
					Species:   lessweb.Arg[Species](args, "species"),
					Tags:      lessweb.Arg[[]string](args, "tags"),
					BornAfter: lessweb.Arg[time.Time](args, "born_after"),
					Desc:      lessweb.Arg[string](args, "order") == "desc",
					Limit:     lessweb.Arg[int](args, "limit"),
				}), nil
			},
		},
		{
			Name:     "get_pet",
			Endpoint: lessweb.Get("/pet/{pet_id:[0-9]+}"),
			Params:   []lessweb.Param{petID, store},
			Func: func(_ context.Context, args *lessweb.Args) (any, error) {
				return lessweb.Arg[*Store](args, "store").Get(lessweb.Arg[PetID](args, "pet_id"))
			},
		},
		{
			Name:     "post_pet",
			Endpoint: lessweb.Post("/pet"),
			Status:   http.StatusCreated,
			Params:   []lessweb.Param{lessweb.Positional("pet", lessweb.Record[Pet]()), store, audit},
			Func: func(_ context.Context, args *lessweb.Args) (any, error) {
				p := lessweb.Arg[*Store](args, "store").Add(lessweb.Arg[Pet](args, "pet"))
				lessweb.Arg[*Audit](args, "audit").Record("create", p.ID)
				return p, nil
			},
		},
		{
			Name:     "put_pets",
			Endpoint: lessweb.Put("/pets"),
			Status:   http.StatusCreated,
			Params:   []lessweb.Param{lessweb.Positional("pets", lessweb.RecordList[Pet]()), store, audit},
			Func: func(_ context.Context, args *lessweb.Args) (any, error) {
				s, a := lessweb.Arg[*Store](args, "store"), lessweb.Arg[*Audit](args, "audit")
				pets := lessweb.Arg[[]Pet](args, "pets")
				out := make([]Pet, len(pets))
				for i, p := range pets {
					out[i] = s.Add(p)
					a.Record("create", out[i].ID)
				}
				return out, nil
			},
		},
		{
			Name:     "delete_pet",
			Endpoint: lessweb.Delete("/pet/{pet_id:[0-9]+}"),
			Params:   []lessweb.Param{petID, store, audit},
			Func: func(_ context.Context, args *lessweb.Args) (any, error) {
				id := lessweb.Arg[PetID](args, "pet_id")
				if err := lessweb.Arg[*Store](args, "store").Delete(id); err != nil {
					return nil, err
				}
				lessweb.Arg[*Audit](args, "audit").Record("delete", id)
				return nil, nil
			},
		},
		{
			Name:     "post_adoption",
			Endpoint: lessweb.Post("/pet/{pet_id:[0-9]+}/adoption"),
			Params:   []lessweb.Param{petID, store, lessweb.Inject[*lessweb.Emitter]("events")},
			Func: func(ctx context.Context, args *lessweb.Args) (any, error) {
				p, err := lessweb.Arg[*Store](args, "store").Adopt(lessweb.Arg[PetID](args, "pet_id"))
				if err != nil {
					return nil, err
				}
				if _, err := lessweb.Arg[*lessweb.Emitter](args, "events").Emit(ctx, "pet_adopted", Adopted{ID: p.ID, Name: p.Name}); err != nil {
					return nil, err
				}
				return p, nil
			},
		},
		{
			Name:     "on_pet_adopted",
			Endpoint: lessweb.OnEvent("pet_adopted", true),
			Params:   []lessweb.Param{lessweb.Positional("event", lessweb.Record[Adopted]()), audit},
			Func: func(_ context.Context, args *lessweb.Args) (any, error) {
				lessweb.Arg[*Audit](args, "audit").Record("adopted", lessweb.Arg[Adopted](args, "event").ID)
				return nil, nil
			},
		},
	}
}

func visitHandler() lessweb.Handler {
	return lessweb.Handler{
		Name:     "post_visit",
		Endpoint: lessweb.Post("/pet/{pet_id:[0-9]+}/visits"),
		Params: []lessweb.Param{
			lessweb.Named("pet_id", petIDType),
			lessweb.Inject[*Store]("store"),
			lessweb.Inject[*redismod.Client]("redis"),
		},
		Func: func(ctx context.Context, args *lessweb.Args) (any, error) {
			id := lessweb.Arg[PetID](args, "pet_id")
			if _, err := lessweb.Arg[*Store](args, "store").Get(id); err != nil {
				return nil, err
			}
			c := lessweb.Arg[*redismod.Client](args, "redis")
			n, err := c.Incr(ctx, c.Key("visits", fmt.Sprint(int(id)))).Result()
			if err != nil {
				return nil, err
			}
			return Visits{PetID: id, Count: n}, nil
		},
	}
}
