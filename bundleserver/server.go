// Package bundleserver is a minimal reference implementation of the
// remote-bundle HTTP wire protocol (spec.md §6.5): GET /:pdpId serving a
// signed bundle file, honouring If-None-Match/ETag and returning 304 when
// unchanged. It repurposes the teacher's otherwise-unused gin dependency
// (declared in go.mod but never imported anywhere in the teacher repo)
// into this server, a real HTTP counterpart for the exchange
// source.RemoteBundleSource speaks. This package's own tests exercise that
// round trip; source's remote-bundle test uses a plain httptest stub.
package bundleserver

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dotrongnhan/saplgo/pdplog"
)

// Server serves *.saplbundle files out of a directory, one file per
// pdpId (filename sans extension), matching source.LocalBundleSource's
// naming convention so the same bundle tree can be published locally and
// remotely.
type Server struct {
	dir    string
	log    *pdplog.Logger
	engine *gin.Engine
}

// New builds a Server rooted at dir. gin is put into release mode
// unconditionally: this is a library-embedded component, not a
// standalone gin application, so debug-mode request logging would just
// be noise in a PDP deployment's own logs.
func New(dir string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		dir:    dir,
		log:    pdplog.New("bundleserver"),
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.engine.GET("/:pdpId", s.handleGet)
	return s
}

// Handler returns the underlying http.Handler, for use with http.Server
// or httptest.NewServer.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleGet(c *gin.Context) {
	pdpID := c.Param("pdpId")
	if strings.ContainsAny(pdpID, "/\\") {
		c.Status(http.StatusBadRequest)
		return
	}

	path := filepath.Join(s.dir, pdpID+".saplbundle")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.Status(http.StatusNotFound)
			return
		}
		s.log.Errorf("read bundle for pdpId %q: %v", pdpID, err)
		c.Status(http.StatusInternalServerError)
		return
	}

	etag := computeETag(data)
	if match := c.GetHeader("If-None-Match"); match != "" && match == etag {
		c.Header("ETag", etag)
		c.Status(http.StatusNotModified)
		return
	}

	c.Header("ETag", etag)
	c.Data(http.StatusOK, "application/zip", data)
}

func computeETag(data []byte) string {
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}
