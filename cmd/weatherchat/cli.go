package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/i474232898/weather-chat/internal/auth"
	"github.com/i474232898/weather-chat/internal/console"
	"github.com/i474232898/weather-chat/internal/conversation"
	"github.com/i474232898/weather-chat/internal/transport"
	"github.com/i474232898/weather-chat/internal/weather"
)

const (
	welcomeMsg = "Weather chat. Answer the questions to get the current weather, or type /help."
	helpMsg    = `Commands:
  /login <username> <password>
  /register <username> <email> <password>
  /logout
  /reset     start a new search
  /history   list your past searches
  /status    show login and connection state
  /help
  /quit`
	loginMsg      = "Please log in with /login <username> <password>, or create an account with /register <username> <email> <password>."
	unknownCmdMsg = "Unknown command. Type /help."
	doneMsg       = "That search is complete. Type /reset to start a new one."
	busyMsg       = "Still fetching the weather, hold on."
)

type app struct {
	client    *auth.Client
	session   *weather.Session
	presenter *console.Presenter
	nav       *console.Navigator
	doer      *transport.Client

	chat   chan string
	worker sync.WaitGroup
}

// run starts the interactive loop. It returns on /quit, end of input or ctx
// cancellation.
func (a *app) run(ctx context.Context, in io.Reader) {
	fmt.Println(welcomeMsg)
	a.greet(ctx)
	a.session.Start(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	a.chat = make(chan string, 16)
	a.worker.Add(1)
	go a.converse(ctx)
	defer func() {
		close(a.chat)
		a.worker.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-a.nav.LoginRequests():
			a.presenter.Say(loginMsg)

		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := a.handle(ctx, line); quit {
				return
			}
		}
	}
}

func (a *app) handle(ctx context.Context, line string) (quit bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		a.chat <- line
		return false
	}

	parts := strings.Fields(trimmed)
	switch strings.ToLower(parts[0]) {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println(helpMsg)

	case "/login":
		if len(parts) != 3 {
			fmt.Println("Usage: /login <username> <password>")
			return false
		}
		a.cliLogin(ctx, parts[1], parts[2])

	case "/register":
		if len(parts) != 4 {
			fmt.Println("Usage: /register <username> <email> <password>")
			return false
		}
		a.cliRegister(ctx, parts[1], parts[2], parts[3])

	case "/logout":
		a.client.Logout(ctx)
		a.presenter.Say("You are logged out.")

	case "/reset":
		a.session.Reset(ctx)

	case "/history":
		a.cliHistory(ctx)

	case "/status":
		a.cliStatus(ctx)

	default:
		fmt.Println(unknownCmdMsg)
	}
	return false
}

// converse feeds chat input to the session in order. It runs apart from the
// command loop so /reset stays responsive while a fetch is in flight.
func (a *app) converse(ctx context.Context) {
	defer a.worker.Done()
	for line := range a.chat {
		_, err := a.session.Submit(ctx, line)
		switch {
		case err == nil, errors.Is(err, conversation.ErrEmptyInput):
		case errors.Is(err, conversation.ErrNotAccepting):
			a.presenter.Say(doneMsg)
		case errors.Is(err, weather.ErrBusy):
			a.presenter.Say(busyMsg)
		default:
			a.presenter.Say("Something went wrong: " + err.Error())
		}
	}
}

func (a *app) greet(ctx context.Context) {
	if !a.client.IsLoggedIn(ctx) {
		return
	}
	if name := a.client.Username(ctx); name != "" {
		a.presenter.Say("Hi, " + name + "!")
	}
}

// cliLogin executes the login operation from CLI.
func (a *app) cliLogin(ctx context.Context, username, password string) {
	res := a.client.Login(ctx, username, password)
	if !res.Success {
		a.presenter.ShowError(res.Error)
		return
	}
	a.greet(ctx)
}

// cliRegister executes the register operation from CLI.
func (a *app) cliRegister(ctx context.Context, username, email, password string) {
	res := a.client.Register(ctx, username, email, password)
	if !res.Success {
		a.presenter.ShowError(res.Error)
		return
	}
	a.presenter.Say("Registration successful. You can now /login.")
}

// cliHistory lists past searches.
func (a *app) cliHistory(ctx context.Context) {
	entries, err := a.session.History(ctx)
	switch {
	case errors.Is(err, weather.ErrLoginRequired):
		a.presenter.Say(loginMsg)
		return
	case err != nil:
		a.presenter.ShowError("Unable to load history: " + err.Error())
		return
	}
	if len(entries) == 0 {
		a.presenter.Say("No searches yet.")
		return
	}
	for _, e := range entries {
		fmt.Printf("  %s  %-20s %s, %s\n", e.Timestamp.Local().Format("2006-01-02 15:04"), e.CityNameQueried, e.City, e.Country)
	}
}

// cliStatus prints login and connection state.
func (a *app) cliStatus(ctx context.Context) {
	fmt.Printf("API:      %s (circuit %s)\n", a.client.BaseURL(), a.doer.State())
	if !a.client.IsLoggedIn(ctx) {
		fmt.Println("Login:    anonymous")
	} else {
		fmt.Printf("Login:    %s\n", a.client.Username(ctx))
		if exp, ok := a.client.TokenExpiry(ctx); ok {
			fmt.Printf("Token:    expires %s (%s)\n", exp.Local().Format(time.Kitchen), time.Until(exp).Round(time.Second))
		}
	}
	fmt.Printf("Search:   %s\n", a.session.Step())
}
