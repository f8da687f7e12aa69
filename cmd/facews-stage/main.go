package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/highcansavci/face-detection-recognition-ws/pkg/stagesim"
	"github.com/highcansavci/face-detection-recognition-ws/pkg/transport"
	quictransport "github.com/highcansavci/face-detection-recognition-ws/pkg/transport/quic"
	wstransport "github.com/highcansavci/face-detection-recognition-ws/pkg/transport/ws"
)

func main() {
	mode := flag.String("mode", "align", "stage to simulate: align|embed")
	kind := flag.String("transport", "ws", "transport to listen on: ws|quic")
	addr := flag.String("addr", ":8888", "listen address")
	path := flag.String("path", "/align", "HTTP path for ws upgrades")
	faces := flag.Int("faces", 1, "face blocks per alignment response")
	dim := flag.Int("dim", 128, "embedding vector length")
	fail := flag.String("fail", "", "answer every request with this text error")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stage *stagesim.Stage
	switch *mode {
	case "align":
		stage = stagesim.NewAlign(*faces, logger)
	case "embed":
		stage = stagesim.NewEmbed(*dim, logger)
	default:
		fatalf("unknown -mode %q", *mode)
	}
	stage.FailMessage = *fail

	var ln transport.Listener
	var err error
	switch *kind {
	case "ws":
		ln, err = wstransport.Listen(*addr, *path, 0)
	case "quic":
		ln, err = quictransport.Listen(ctx, *addr)
	default:
		fatalf("unknown -transport %q", *kind)
	}
	if err != nil {
		fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	logger.Info("stage simulator listening",
		zap.String("mode", *mode), zap.String("transport", *kind), zap.String("addr", ln.Addr().String()))

	if err := stage.Serve(ctx, ln); err != nil && ctx.Err() == nil {
		fatalf("serve: %v", err)
	}
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
