package backend

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"

	"github.com/relabs-tech/basebone/core"
)

// handleCompression compresses responses for clients which accept it and decompresses
// request bodies sent with Content-Encoding gzip
func (b *Backend) handleCompression() {

	compressionMiddleware := func(h http.Handler) http.Handler {
		return handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
				h.ServeHTTP(w, r)
				return
			}
			reader, err := gzip.NewReader(r.Body)
			if err != nil {
				writeResult(r.Context(), w, 0, nil, core.Errorf(core.CodeInvalidRequest, err, "invalid gzip request body"))
				return
			}
			defer reader.Close()
			r.Body = struct {
				io.Reader
				io.Closer
			}{reader, r.Body}
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
			h.ServeHTTP(w, r)
		}))
	}
	b.router.Use(compressionMiddleware)
}
