// Package lessweb is a dependency-injecting HTTP runtime for Go. Handlers
// declare their parameters explicitly, and the runtime binds each one from
// the request body, a path capture or query value, or a component
// container, before the handler runs.
//
// The handler signature removes http.ResponseWriter and *http.Request:
//
//	type HandlerFunc func(ctx context.Context, args *Args) (any, error)
//
// Parameters are declared with their passing style. Positional parameters
// bind the JSON body, named parameters bind path captures or query values,
// and injected parameters are resolved from the container:
//
//	app := lessweb.New(lessweb.WithLogger(logger))
//	app.RegisterModule(NewPetStore)
//	app.Handle(lessweb.Handler{
//	    Name:     "get_pet",
//	    Endpoint: lessweb.Get("/pet/{pet_id:[0-9]+}"),
//	    Params: []lessweb.Param{
//	        lessweb.Named("pet_id", lessweb.Int),
//	        lessweb.Inject[*PetStore]("store"),
//	    },
//	    Func: func(ctx context.Context, args *lessweb.Args) (any, error) {
//	        store := lessweb.Arg[*PetStore](args, "store")
//	        return store.Get(lessweb.Arg[int](args, "pet_id"))
//	    },
//	})
//
// Components live in one of three scopes. Process-scope modules are built
// once by Start, request-scope services once per request, and factory-scope
// beans once per request from their factory. A process-scope component may
// only depend on other process-scope components; cycles and layering
// violations fail Start before any request is served.
//
// Transport middleware uses the standard func(http.Handler) http.Handler
// signature. Middleware components registered with RegisterMiddleware wrap
// argument binding and the handler, and may depend on any component.
package lessweb
