// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/basebone/core/access"
	"github.com/relabs-tech/basebone/core/logger"
	"github.com/relabs-tech/basebone/core/storage"
)

// EntityStatistics represents information about an entity
type EntityStatistics struct {
	Entity string `json:"entity"`
	Count  int    `json:"count"`
}

// StatisticsDetails represents information about the backend entities
type StatisticsDetails struct {
	Entities []EntityStatistics `json:"entities"`
}

func (b *Backend) handleStatistics(router *mux.Router) {
	logger.Default().Debugln("statistics")
	logger.Default().Debugln("  handle statistics route: /manage/statistics GET")
	router.HandleFunc("/manage/statistics", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.statisticsWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
}

func (b *Backend) statisticsWithAuth(w http.ResponseWriter, r *http.Request) {
	if b.authorizationEnabled {
		auth := access.AuthorizationFromContext(r.Context())
		if !auth.IsAdmin() {
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}
	}

	// entities are sorted by key, so the ETag does not depend on the configuration order
	s := StatisticsDetails{Entities: []EntityStatistics{}}
	for _, e := range b.Registry.Entities() {
		count, err := b.store.Count(r.Context(), storage.All(e))
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Errorln("Error 4028: Count")
			http.Error(w, "Error 4028: ", http.StatusInternalServerError)
			return
		}
		s.Entities = append(s.Entities, EntityStatistics{Entity: e.Key(), Count: count})
	}

	jsonData, _ := json.Marshal(s)
	etag := bytesToEtag(jsonData)
	w.Header().Set("Etag", etag)
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(jsonData)
}

func bytesToEtag(data []byte) string {
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// ifNoneMatchFound returns true if etag is found in ifNoneMatch. The format of ifNoneMatch is one
// of the following:
// If-None-Match: "<etag_value>"
// If-None-Match: "<etag_value>", "<etag_value>", …
// If-None-Match: *
func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.Trim(s, " \"")
		t := strings.Trim(etag, " \"")
		if s == t {
			return true
		}
	}
	return false
}
