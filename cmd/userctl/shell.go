package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"userdesk/internal/client"
)

const helpLoggedOut = `commands: login, register, help, quit`
const helpLoggedIn = `commands: list, edit <id>, delete <id>, logout, help, quit`

// shell is a prompt-driven front end for the API. Every outcome is reported
// on its own "!" line.
type shell struct {
	api *client.Client
	in  *bufio.Scanner
	out io.Writer
}

func newShell(api *client.Client, in io.Reader, out io.Writer) *shell {
	return &shell{api: api, in: bufio.NewScanner(in), out: out}
}

func (s *shell) run(ctx context.Context) error {
	fmt.Fprintln(s.out, "userdesk")
	fmt.Fprintln(s.out, helpLoggedOut)

	for {
		line, ok := s.prompt("> ")
		if !ok {
			return s.in.Err()
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "":
		case "quit", "exit":
			return nil
		case "help":
			s.help()
		case "login":
			s.login(ctx)
		case "register":
			s.register(ctx)
		case "list", "edit", "delete", "logout":
			if !s.api.LoggedIn() {
				s.alert("please log in first")
				continue
			}
			switch cmd {
			case "list":
				s.list(ctx)
			case "edit":
				s.edit(ctx, arg)
			case "delete":
				s.delete(ctx, arg)
			case "logout":
				s.api.Logout()
				s.alert("logged out")
			}
		default:
			s.alert(fmt.Sprintf("unknown command %q", cmd))
			s.help()
		}
	}
}

func (s *shell) help() {
	if s.api.LoggedIn() {
		fmt.Fprintln(s.out, helpLoggedIn)
		return
	}
	fmt.Fprintln(s.out, helpLoggedOut)
}

func (s *shell) login(ctx context.Context) {
	email, _ := s.prompt("email: ")
	password, _ := s.prompt("password: ")
	if err := s.api.Login(ctx, strings.TrimSpace(email), password); err != nil {
		s.fail(err)
		return
	}
	s.alert("login successful")
	s.list(ctx)
}

func (s *shell) register(ctx context.Context) {
	name, _ := s.prompt("name: ")
	email, _ := s.prompt("email: ")
	password, _ := s.prompt("password: ")
	if _, err := s.api.Register(ctx, strings.TrimSpace(name), strings.TrimSpace(email), password); err != nil {
		s.fail(err)
		return
	}
	s.alert("registration successful, you can log in now")
}

func (s *shell) list(ctx context.Context) {
	users, err := s.api.ListUsers(ctx)
	if err != nil {
		s.alert("failed to load users")
		return
	}
	if len(users) == 0 {
		fmt.Fprintln(s.out, "(no users)")
		return
	}
	for _, u := range users {
		fmt.Fprintf(s.out, "%d\t%s\t%s\n", u.ID, u.Name, u.Email)
	}
}

// edit prompts for name and email; an empty answer keeps the current value.
func (s *shell) edit(ctx context.Context, arg string) {
	id, ok := s.parseID(arg)
	if !ok {
		return
	}
	current, err := s.api.GetUser(ctx, id)
	if err != nil {
		s.fail(err)
		return
	}

	name, _ := s.prompt(fmt.Sprintf("name [%s]: ", current.Name))
	email, _ := s.prompt(fmt.Sprintf("email [%s]: ", current.Email))
	fields := map[string]any{"name": current.Name, "email": current.Email}
	if v := strings.TrimSpace(name); v != "" {
		fields["name"] = v
	}
	if v := strings.TrimSpace(email); v != "" {
		fields["email"] = v
	}

	if _, err := s.api.UpdateUser(ctx, id, fields); err != nil {
		s.alert("update failed: not allowed or bad request")
		return
	}
	s.alert("update successful")
	s.list(ctx)
}

func (s *shell) delete(ctx context.Context, arg string) {
	id, ok := s.parseID(arg)
	if !ok {
		return
	}
	answer, _ := s.prompt("really delete? [y/N]: ")
	if !strings.EqualFold(strings.TrimSpace(answer), "y") {
		return
	}

	if err := s.api.DeleteUser(ctx, id); err != nil {
		s.alert("delete failed: not allowed or bad request")
		return
	}
	s.alert("delete successful")
	s.list(ctx)
}

func (s *shell) parseID(arg string) (int64, bool) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		s.alert("usage: <command> <numeric id>")
		return 0, false
	}
	return id, true
}

func (s *shell) prompt(label string) (string, bool) {
	fmt.Fprint(s.out, label)
	if !s.in.Scan() {
		return "", false
	}
	return s.in.Text(), true
}

func (s *shell) alert(msg string) {
	fmt.Fprintf(s.out, "! %s\n", msg)
}

func (s *shell) fail(err error) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		s.alert(apiErr.Message)
		return
	}
	s.alert(err.Error())
}
