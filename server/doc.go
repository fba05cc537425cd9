/*
Package server is a small embeddable HTTP server for exposing lightweight
service endpoints, such as health checks and metrics probes, on their own
ports.

A server is made of three parts:

A `Dispatcher`, built once by a `RouterBuilder`, maps an exact method and path
to a `Handler`:

    router := server.NewRouterBuilder().
        Get("/health", func(c *server.RequestContext) error {
            return c.OK()
        }).
        Build()

Paths are compared without their query string and without any pattern
matching. Unmatched requests get a `404 Not Found`, handlers that return an
error (or panic) get a `500 Internal Server Error` and the failure is logged
to `server.Log`.

A `RequestContext` is handed to each Handler and is the only way to respond:

    type Handler func(*RequestContext) error

`WriteText` and `OK` write a plain text response with an exact Content-Length
and honor the keep-alive choice of the request. `Stream` sends a chunked
response.

A `Server` binds a port and installs the same pipeline on every connection:
body aggregation (capped at 1 MiB, larger requests get a 413 and the
connection is closed), chunked write support, permissive CORS, and dispatch.
Servers draw on two `Group`s, one for accepting and one for serving, which can
be shared between servers:

    acceptors, workers := server.NewGroup("acceptor", 1), server.NewGroup("worker", 4)
    app := server.New(acceptors, workers).WithPort(8080).WithRouter(router)
    if err := app.Start(); err != nil {
        server.Log.Fatal(err)
    }
    defer app.Stop()
    app.Wait()
*/
package server
