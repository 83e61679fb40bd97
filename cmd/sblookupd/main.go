/*
Copyright (c) 2013, Richard Johnson
All rights reserved.

Redistribution and use in source and binary forms, with or without
modification, are permitted provided that the following conditions are met:
 * Redistributions of source code must retain the above copyright notice, this
   list of conditions and the following disclaimer.
 * Redistributions in binary form must reproduce the above copyright notice,
   this list of conditions and the following disclaimer in the documentation
   and/or other materials provided with the distribution.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND
ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED
WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.
*/

// Command sblookupd is a small JSON HTTP front end over a Client: point
// it at a TOML config and it serves POST /lookup requests against a
// continuously-updated local mirror.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	safebrowsing "github.com/nikolo/safebrowsing3"
)

var defaultLists = []string{"goog-malware-shavar", "googpub-phish-shavar"}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional; env vars and flags still apply)")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	pollInterval := flag.Duration("poll", 30*time.Second, "how often to poll for chunk updates")
	flag.Parse()

	cfg, err := safebrowsing.LoadConfig(*configPath, safebrowsing.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sblookupd: %v\n", err)
		os.Exit(1)
	}

	client, err := safebrowsing.NewClient(cfg, defaultLists, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sblookupd: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pollLoop(ctx, client, *pollInterval)

	srv := &server{client: client}
	mux := http.NewServeMux()
	mux.HandleFunc("/lookup", srv.handleLookup)
	mux.HandleFunc("/form", srv.handleForm)
	mux.HandleFunc("/healthz", srv.handleHealth)

	httpServer := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "sblookupd: %v\n", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// pollLoop drives Client.Update on a fixed tick until ctx is canceled,
// logging rather than exiting on individual cycle errors so a transient
// server failure doesn't take the whole daemon down.
func pollLoop(ctx context.Context, client *safebrowsing.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Update(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "sblookupd: update cycle: %v\n", err)
			}
		}
	}
}

type server struct {
	client *safebrowsing.Client
}

// urlResult is the per-URL shape returned from POST /lookup: whether the
// URL matched, which lists it matched on, or an error string if the
// lookup itself failed (e.g. ErrOutOfDateHashes).
type urlResult struct {
	IsListed bool     `json:"isListed"`
	Lists    []string `json:"lists,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type lookupRequest struct {
	URLs []string `json:"urls"`
}

func (s *server) handleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req lookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("bad request body: %v", err), http.StatusBadRequest)
		return
	}

	out := make(map[string]urlResult, len(req.URLs))
	for _, u := range req.URLs {
		out[u] = s.queryOne(r.Context(), u)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *server) queryOne(ctx context.Context, url string) urlResult {
	lists, err := s.client.IsListed(ctx, url)
	if err != nil {
		return urlResult{Error: err.Error()}
	}
	return urlResult{IsListed: len(lists) > 0, Lists: lists}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *server) handleForm(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, formHTML)
}

const formHTML = `<!DOCTYPE html>
<html>
<body>
<textarea id="txtJson" cols="60" rows="10">["http://www.google.com/", "http://www.ianfette.org/"]</textarea><br/>
<pre id="output"></pre><br/>
<input type="button" value="Submit" onclick="fireRequest();" />
<script>
fireRequest = function() {
	fetch("/lookup", {method: "POST", body: JSON.stringify({urls: JSON.parse(document.getElementById("txtJson").value)})})
		.then(r => r.json())
		.then(data => { document.getElementById("output").textContent = JSON.stringify(data, null, 2); });
}
</script>
</body>
</html>
`
