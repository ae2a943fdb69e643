package main

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/composeforge/composeforge/internal/auth"
	"github.com/composeforge/composeforge/internal/config"
	"github.com/composeforge/composeforge/internal/settings"
)

const webDistDir = "web/dist"

const oneYear = 365 * 24 * 60 * 60

// registerHTTPRoutes wires the non-wire-protocol surface: robots.txt, the
// altcha proof-of-work challenge for the setup/login form, and the
// bundled single-page application. Grounded on the teacher's
// setupFrontend, extended with spec §6's pre-compressed variant
// negotiation and cache-control split.
func registerHTTPRoutes(g *gin.Engine, cfg *config.Config, settingsStore *settings.Store) {
	g.GET("/robots.txt", func(c *gin.Context) {
		c.String(http.StatusOK, "User-agent: *\nDisallow: /\n")
	})

	g.GET("/api/altcha-challenge", func(c *gin.Context) {
		jwtSecret, ok, err := settingsStore.Get(c.Request.Context(), settings.JWTSecret)
		if err != nil || !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "challenge unavailable"})
			return
		}
		challenge, err := auth.GenerateAltchaChallenge(jwtSecret)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, challenge)
	})

	if _, err := os.Stat(webDistDir); os.IsNotExist(err) {
		return
	}
	g.NoRoute(serveSPA)
}

// serveSPA serves an asset or the SPA fallback index.html, preferring a
// pre-compressed .br or .gz sibling of the requested file when the
// client's Accept-Encoding allows it. Assets under /assets/ get a
// year-long immutable cache lifetime; everything else gets one hour,
// per spec §6.
func serveSPA(c *gin.Context) {
	reqPath := c.Request.URL.Path
	if strings.HasPrefix(reqPath, "/api") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	filePath := filepath.Join(webDistDir, filepath.Clean("/"+reqPath))
	if info, err := os.Stat(filePath); err != nil || info.IsDir() {
		filePath = filepath.Join(webDistDir, "index.html")
	}

	setCacheControl(c, reqPath)
	serveWithEncodingNegotiation(c, filePath)
}

func setCacheControl(c *gin.Context, reqPath string) {
	if strings.HasPrefix(reqPath, "/assets/") {
		c.Header("Cache-Control", "public, max-age="+strconv.Itoa(oneYear)+", immutable")
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
}

// serveWithEncodingNegotiation prefers a .br sibling, then .gz, then the
// plain file, in that order, matching only the encodings the client's
// Accept-Encoding header actually advertises.
func serveWithEncodingNegotiation(c *gin.Context, filePath string) {
	accept := c.GetHeader("Accept-Encoding")
	if ctype := mime.TypeByExtension(filepath.Ext(filePath)); ctype != "" {
		c.Header("Content-Type", ctype)
	}

	if strings.Contains(accept, "br") {
		if _, err := os.Stat(filePath + ".br"); err == nil {
			c.Header("Content-Encoding", "br")
			c.Header("Vary", "Accept-Encoding")
			c.File(filePath + ".br")
			return
		}
	}
	if strings.Contains(accept, "gzip") {
		if _, err := os.Stat(filePath + ".gz"); err == nil {
			c.Header("Content-Encoding", "gzip")
			c.Header("Vary", "Accept-Encoding")
			c.File(filePath + ".gz")
			return
		}
	}
	c.File(filePath)
}
