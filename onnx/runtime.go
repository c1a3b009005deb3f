package onnx

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const libEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

var pathOnce sync.Once
var libPath string

// LibPath resolves the runtime library once. A non-empty override wins.
func LibPath(override string) string {
	pathOnce.Do(func() {
		libPath = loadLibPath(override)
		if libPath == "" {
			slog.Warn("ONNX Runtime library not found, falling back to the loader search path")
		} else {
			slog.Info("Using ONNX Runtime library", slog.String("path", libPath))
		}
	})
	return libPath
}

func loadLibPath(override string) string {
	if override != "" {
		return override
	}
	if p := os.Getenv(libEnv); p != "" {
		return p
	}
	for _, p := range candidates(runtime.GOOS, runtime.GOARCH) {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func candidates(goos, goarch string) []string {
	switch goos {
	case "linux":
		name := "libonnxruntime.so"
		if goarch == "arm64" {
			return []string{
				filepath.Join("onnxlibs", name),
				"/usr/lib/aarch64-linux-gnu/" + name,
				"/usr/local/lib/" + name,
			}
		}
		return []string{
			filepath.Join("onnxlibs", name),
			"/usr/lib/x86_64-linux-gnu/" + name,
			"/usr/local/lib/" + name,
		}
	case "darwin":
		return []string{
			filepath.Join("onnxlibs", "libonnxruntime.dylib"),
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"/usr/local/lib/libonnxruntime.dylib",
		}
	case "windows":
		return []string{filepath.Join("onnxlibs", "onnxruntime.dll")}
	default:
		return nil
	}
}
