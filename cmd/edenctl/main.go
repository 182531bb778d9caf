// Command edenctl is the operator CLI: it talks to a running edenhost's
// debug/control HTTP surface to inspect running apps, registered
// services, and subscriptions, and to force-stop an app or grant/revoke
// a permission. Its flag-struct and command.C tree follow
// cmd/headscale's command layout; unlike headscale's gRPC client, it
// speaks plain HTTP since edenhost never exposes a gRPC service.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
)

// globalFlags are available to every subcommand.
type globalFlags struct {
	Host string `flag:"host,Base URL of edenhost's debug/control surface"`
}

const defaultHost = "http://127.0.0.1:9090"

var rootArgs globalFlags

func main() {
	root := &command.C{
		Name:  filepath.Base(os.Args[0]),
		Usage: "command [flags]",
		Help:  "Inspect and control a running edenhost instance.",
		SetFlags: func(env *command.Env, fs *flag.FlagSet) {
			flax.MustBind(fs, &rootArgs)
		},
		Commands: []*command.C{
			{
				Name:  "apps",
				Usage: "",
				Help:  "List running apps",
				Run:   command.Adapt(appsCommand),
			},
			{
				Name:  "services",
				Usage: "",
				Help:  "List AppBus services",
				Run:   command.Adapt(servicesCommand),
			},
			{
				Name:  "subscriptions",
				Usage: "",
				Help:  "List Subscription Bus subjects",
				Run:   command.Adapt(subscriptionsCommand),
			},
			{
				Name:  "views",
				Usage: "",
				Help:  "List the View Manager's ordered stack",
				Run:   command.Adapt(viewsCommand),
			},
			{
				Name:  "stop",
				Usage: "<app-id>",
				Help:  "Force-stop a running app",
				Run:   command.Adapt(stopCommand),
			},
			{
				Name:  "grant",
				Usage: "<permission>",
				Help:  "Grant a permission to the current user",
				Run:   command.Adapt(grantCommand),
			},
			{
				Name:  "revoke",
				Usage: "<permission>",
				Help:  "Revoke a permission from the current user",
				Run:   command.Adapt(revokeCommand),
			},
			{
				Name:  "login",
				Usage: "<username> <password>",
				Help:  "Switch the current session's user",
				Run:   command.Adapt(loginCommand),
			},
			{
				Name:  "logout",
				Usage: "",
				Help:  "Clear the current session's user",
				Run:   command.Adapt(logoutCommand),
			},
		},
	}

	env := root.NewEnv(nil)
	command.RunOrFail(env, os.Args[1:])
}

func appsCommand(env *command.Env) error          { return getJSON("/debug/apps") }
func servicesCommand(env *command.Env) error      { return getJSON("/debug/appbus") }
func subscriptionsCommand(env *command.Env) error { return getJSON("/debug/subscriptions") }
func viewsCommand(env *command.Env) error         { return getJSON("/debug/views") }

func stopCommand(env *command.Env, appID string) error {
	return postEmpty("/control/stop/" + appID)
}

func grantCommand(env *command.Env, permission string) error {
	return postEmpty("/control/grant/" + permission)
}

func revokeCommand(env *command.Env, permission string) error {
	return postEmpty("/control/revoke/" + permission)
}

func loginCommand(env *command.Env, username, password string) error {
	body, err := json.Marshal(struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{username, password})
	if err != nil {
		return err
	}
	return postJSON("/control/login", body)
}

func logoutCommand(env *command.Env) error {
	return postEmpty("/control/logout")
}

func host() string {
	if rootArgs.Host == "" {
		return defaultHost
	}
	return rootArgs.Host
}

func getJSON(path string) error {
	resp, err := http.Get(host() + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("edenhost returned %s: %s", resp.Status, body)
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func postEmpty(path string) error {
	resp, err := http.Post(host()+path, "application/octet-stream", nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("edenhost returned %s: %s", resp.Status, body)
	}
	fmt.Println("ok")
	return nil
}

func postJSON(path string, body []byte) error {
	resp, err := http.Post(host()+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("edenhost returned %s: %s", resp.Status, respBody)
	}
	fmt.Println("ok")
	return nil
}
