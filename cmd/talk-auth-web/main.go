// talk-auth-web is a small web server demonstrating atproto OAuth login:
// a login form, the OAuth callback, and a signed cookie session recording the
// verified account.
package main

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"

	"github.com/rorybyrne/sciencetalk-api-sub000/atproto/oauth"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:    "talk-auth-web",
		Usage:   "atproto OAuth login demo server",
		Version: versioninfo.Short(),
		Action:  runServer,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "session-secret",
				Usage:    "random string/token used for cookie session security",
				Required: true,
				EnvVars:  []string{"SESSION_SECRET"},
			},
			&cli.StringFlag{
				Name:    "hostname",
				Usage:   "public host name for this client (if not localhost dev mode)",
				EnvVars: []string{"CLIENT_HOSTNAME"},
			},
			&cli.StringFlag{
				Name:    "bind",
				Usage:   "IP or address, and port, to listen on for HTTP",
				Value:   ":8080",
				EnvVars: []string{"TALK_AUTH_WEB_BIND"},
			},
		},
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))
	app.RunAndExitOnError()
}

type Server struct {
	cookies *sessions.CookieStore
	oauth   *oauth.ClientApp
}

const cookieName = "talk-auth"

var tmplHome = template.Must(template.New("home").Parse(`<!doctype html>
<html><body>
<h1>talk auth demo</h1>
{{ if .Handle }}
<p>logged in as <strong>@{{ .Handle }}</strong> ({{ .DID }})</p>
<p><a href="/auth/logout">logout</a></p>
{{ else }}
<form action="/auth/login" method="post">
<label>handle or DID: <input name="account" placeholder="someone.bsky.social"></label>
<button type="submit">login</button>
</form>
{{ end }}
</body></html>`))

func runServer(cctx *cli.Context) error {
	bind := cctx.String("bind")
	hostname := cctx.String("hostname")

	var config oauth.ClientConfig
	if hostname == "" {
		config = oauth.NewLocalhostConfig(fmt.Sprintf("http://127.0.0.1%s/auth/callback", bind))
		slog.Info("configuring localhost OAuth client", "callbackURL", config.CallbackURL)
	} else {
		config = oauth.NewPublicConfig(
			fmt.Sprintf("https://%s/oauth/client-metadata.json", hostname),
			fmt.Sprintf("https://%s/auth/callback", hostname),
		)
	}

	store := oauth.NewMemStore()
	defer store.Close()

	srv := &Server{
		cookies: sessions.NewCookieStore([]byte(cctx.String("session-secret"))),
		oauth:   oauth.NewClientApp(config, store),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/", srv.Homepage)
	e.GET("/oauth/client-metadata.json", srv.ClientMetadata)
	e.POST("/auth/login", srv.Login)
	e.GET("/auth/callback", srv.Callback)
	e.GET("/auth/logout", srv.Logout)

	slog.Info("starting http server", "bind", bind, "version", versioninfo.Short())
	return e.Start(bind)
}

func (s *Server) currentAccount(c echo.Context) (did, handle string) {
	sess, _ := s.cookies.Get(c.Request(), cookieName)
	did, _ = sess.Values["account_did"].(string)
	handle, _ = sess.Values["account_handle"].(string)
	return did, handle
}

func (s *Server) Homepage(c echo.Context) error {
	did, handle := s.currentAccount(c)
	data := struct {
		DID    string
		Handle string
	}{DID: did, Handle: handle}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	return tmplHome.Execute(c.Response(), data)
}

func (s *Server) ClientMetadata(c echo.Context) error {
	meta := s.oauth.Config.ClientMetadata()
	name := "talk auth demo"
	meta.ClientName = &name

	if err := meta.Validate(s.oauth.Config.ClientID); err != nil {
		slog.Error("validating client metadata", "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, meta)
}

func (s *Server) Login(c echo.Context) error {
	ctx := c.Request().Context()

	account := c.FormValue("account")
	if account == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "account is required")
	}

	redirectURL, err := s.oauth.StartAuthFlow(ctx, account)
	if err != nil {
		slog.Warn("login failed", "account", account, "err", err)
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("login failed: %v", err))
	}
	return c.Redirect(http.StatusFound, redirectURL)
}

func (s *Server) Callback(c echo.Context) error {
	ctx := c.Request().Context()

	info, err := s.oauth.ProcessCallback(ctx,
		c.QueryParam("code"),
		c.QueryParam("state"),
		c.QueryParam("iss"),
	)
	if err != nil {
		slog.Warn("callback failed", "err", err)
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("login failed: %v", err))
	}

	sess, _ := s.cookies.Get(c.Request(), cookieName)
	sess.Values["account_did"] = info.DID.String()
	sess.Values["account_handle"] = info.Handle
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	slog.Info("login successful", "did", info.DID, "handle", info.Handle)
	return c.Redirect(http.StatusFound, "/")
}

func (s *Server) Logout(c echo.Context) error {
	sess, _ := s.cookies.Get(c.Request(), cookieName)
	sess.Values = make(map[any]any)
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Redirect(http.StatusFound, "/")
}
