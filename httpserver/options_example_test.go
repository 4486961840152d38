package httpserver_test

import (
	"context"
	"fmt"
	"time"

	"github.com/purposeinplay/go-artifact/httpserver"
)

func ExampleWithAddress() {
	opt := httpserver.WithAddress(":9090")

	fmt.Println(opt)
	// Output: server.Address: :9090
}

func ExampleWithBaseContext() {
	opt := httpserver.WithBaseContext(context.Background(), true)

	fmt.Println(opt)
	// Output:
	// server.BaseContext: context.backgroundCtx
	// server.CancelContextOnShutdown: true
}

func ExampleWithServerTimeouts() {
	opt := httpserver.WithServerTimeouts(
		time.Second,
		2*time.Second,
		3*time.Second,
		4*time.Second,
	)

	fmt.Println(opt)
	// Output:
	// server.WriteTimeout: 1s
	// server.ReadTimeout: 2s
	// server.IdleTimeout: 3s
	// server.ReadHeaderTimeout: 4s
}
