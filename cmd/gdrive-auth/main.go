// Command gdrive-auth walks through the OAuth consent flow once and prints
// the refresh token the api service needs for the gdrive storage provider.
//
// Usage:
//
//	GDRIVE_CLIENT_ID=... GDRIVE_CLIENT_SECRET=... go run ./cmd/gdrive-auth
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
)

func main() {
	clientID := os.Getenv("GDRIVE_CLIENT_ID")
	clientSecret := os.Getenv("GDRIVE_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		fmt.Fprintln(os.Stderr, "GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET are required")
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		fmt.Fprintln(os.Stderr, "listen:", err)
		os.Exit(1)
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
		RedirectURL:  fmt.Sprintf("http://%s/callback", ln.Addr().String()),
	}

	url := conf.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Println("Open this URL in your browser:")
	fmt.Println()
	fmt.Println("  " + url)
	fmt.Println()

	codeCh := make(chan string, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authorized. You can close this tab.")
		codeCh <- code
	})}
	go srv.Serve(ln)

	code := <-codeCh
	_ = srv.Close()

	tok, err := conf.Exchange(context.Background(), code)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token exchange:", err)
		os.Exit(1)
	}

	if tok.RefreshToken == "" {
		fmt.Fprintln(os.Stderr, "no refresh token returned; revoke prior consent and retry")
		os.Exit(1)
	}

	fmt.Println("Set this in your environment:")
	fmt.Println()
	fmt.Printf("  GDRIVE_REFRESH_TOKEN=%s\n", tok.RefreshToken)
}
