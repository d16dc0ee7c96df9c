// Package web holds the page the monitor serves next to its JSON API.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/sirupsen/logrus"
)

// DevEnv switches GetAssets to read the page from disk. It takes a boolean
// or a directory. With "true" the page is read from dist/ next to this file,
// so edits show up on reload without rebuilding softmmu.
const DevEnv = "SOFTMMU_MONITOR_DEV"

//go:embed dist/*
var embedded embed.FS

// GetAssets returns the file system the monitor serves under "/".
func GetAssets() http.FileSystem {
	if dir, ok := devDir(); ok {
		logrus.WithField("dir", dir).Info("monitor page served from disk")
		return http.Dir(dir)
	}

	dist, err := fs.Sub(embedded, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(dist)
}

func devDir() (string, bool) {
	v, ok := os.LookupEnv(DevEnv)
	if !ok || v == "" {
		return "", false
	}

	on, err := strconv.ParseBool(v)
	if err != nil {
		if st, statErr := os.Stat(v); statErr == nil && st.IsDir() {
			return v, true
		}

		logrus.WithField(DevEnv, v).Warn("not a boolean or a directory, using the embedded page")

		return "", false
	}

	if !on {
		return "", false
	}

	_, self, _, ok := runtime.Caller(0)
	if !ok {
		panic("web: cannot locate the source tree")
	}

	return filepath.Join(filepath.Dir(self), "dist"), true
}
