package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/highcansavci/face-detection-recognition-ws/pkg/client"
	"github.com/highcansavci/face-detection-recognition-ws/pkg/config"
	"github.com/highcansavci/face-detection-recognition-ws/pkg/observability"
	"github.com/highcansavci/face-detection-recognition-ws/pkg/stagesim"
	"github.com/highcansavci/face-detection-recognition-ws/pkg/store"
	"github.com/highcansavci/face-detection-recognition-ws/pkg/transport"
	memtransport "github.com/highcansavci/face-detection-recognition-ws/pkg/transport/mem"
	quictransport "github.com/highcansavci/face-detection-recognition-ws/pkg/transport/quic"
	wstransport "github.com/highcansavci/face-detection-recognition-ws/pkg/transport/ws"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config file")
	imagePath := flag.String("image", "", "path to the input image")
	mode := flag.String("mode", "e2e", "operation: align|embed|e2e")
	outDir := flag.String("out", ".", "directory for aligned face output")
	timeout := flag.Duration("timeout", 0, "per-operation timeout (0 = use config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fatalf("setup logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if *imagePath == "" {
		fatalf("missing -image")
	}
	imageData, err := os.ReadFile(*imagePath)
	if err != nil {
		fatalf("read image: %v", err)
	}
	zap.L().Info("image loaded", zap.String("path", *imagePath), zap.Int("bytes", len(imageData)))

	ctx := context.Background()
	connectTimeout := time.Duration(cfg.Stages.ConnectTimeoutMS) * time.Millisecond
	requestTimeout := time.Duration(cfg.Stages.RequestTimeoutMS) * time.Millisecond
	if *timeout > 0 {
		requestTimeout = *timeout
	}

	dialer, err := dialerFor(ctx, cfg, connectTimeout)
	if err != nil {
		fatalf("%v", err)
	}

	cl, err := client.New(ctx, client.Options{
		AlignAddr:      cfg.Stages.AlignAddr,
		EmbedAddr:      cfg.Stages.EmbedAddr,
		Dialer:         dialer,
		ConnectTimeout: connectTimeout,
		RequestTimeout: requestTimeout,
		Logger:         logger,
	})
	if err != nil {
		fatalf("connect to stages: %v", err)
	}
	defer func() { _ = cl.Close() }()

	switch *mode {
	case "align":
		runAlign(ctx, cl, imageData, *outDir)
	case "embed":
		vec, err := cl.Embed(ctx, imageData)
		if err != nil {
			fatalf("embed: %v", err)
		}
		reportEmbedding(vec)
	case "e2e":
		runEndToEnd(ctx, cl, cfg, imageData)
	default:
		fatalf("unknown -mode %q", *mode)
	}
}

func runAlign(ctx context.Context, cl *client.Client, imageData []byte, outDir string) {
	faces, err := cl.AlignFaces(ctx, imageData)
	if err != nil {
		fatalf("align: %v", err)
	}
	zap.L().Info("aligned faces received", zap.Int("count", len(faces)))
	for i, face := range faces {
		out := filepath.Join(outDir, fmt.Sprintf("aligned_face_%d.png", i+1))
		if err := os.WriteFile(out, face, 0o644); err != nil {
			fatalf("write %s: %v", out, err)
		}
		zap.L().Info("saved aligned face", zap.String("path", out), zap.Int("bytes", len(face)))
	}
}

func runEndToEnd(ctx context.Context, cl *client.Client, cfg *config.Config, imageData []byte) {
	var st *store.Store
	if cfg.Cache.Enable {
		var err error
		st, err = store.Open(cfg.Cache.Dir, zap.L())
		if err != nil {
			fatalf("open embedding cache: %v", err)
		}
		if vec, err := st.Get(imageData); err == nil {
			zap.L().Info("embedding served from cache", zap.String("key", store.Key(imageData)))
			reportEmbedding(vec)
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			zap.L().Warn("cache lookup failed", zap.Error(err))
		}
	}

	vec, err := cl.ProcessImage(ctx, imageData)
	if err != nil {
		fatalf("process: %v", err)
	}
	reportEmbedding(vec)

	if st != nil {
		if key, err := st.Put(imageData, vec); err != nil {
			zap.L().Warn("cache write failed", zap.Error(err))
		} else {
			zap.L().Info("embedding cached", zap.String("key", key))
		}
	}
}

func reportEmbedding(vec []float32) {
	zap.L().Info("embedding received", zap.Int("dim", len(vec)))
	for i := 0; i < len(vec) && i < 5; i++ {
		zap.L().Info("embedding element", zap.Int("index", i), zap.Float32("value", vec[i]))
	}
}

// dialerFor builds the transport from config. The mem transport runs both
// stage simulators in-process, handy for trying the client without any
// servers.
func dialerFor(ctx context.Context, cfg *config.Config, connectTimeout time.Duration) (transport.Dialer, error) {
	switch cfg.Stages.Transport {
	case "ws":
		return &wstransport.Dialer{
			HandshakeTimeout: connectTimeout,
			MaxMessageBytes:  cfg.Stages.MaxMessageBytes,
		}, nil
	case "quic":
		return &quictransport.Dialer{}, nil
	case "mem":
		net := memtransport.NewNetwork()
		alignLn, err := net.Listen(ctx, cfg.Stages.AlignAddr)
		if err != nil {
			return nil, err
		}
		embedLn, err := net.Listen(ctx, cfg.Stages.EmbedAddr)
		if err != nil {
			return nil, err
		}
		go func() { _ = stagesim.NewAlign(1, zap.L()).Serve(ctx, alignLn) }()
		go func() { _ = stagesim.NewEmbed(128, zap.L()).Serve(ctx, embedLn) }()
		zap.L().Info("in-process stage simulators started")
		return net, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Stages.Transport)
	}
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
