// Command ringlinkctl is the CLI front-end that drives a running
// ringlinkd over the localctl control plane.
package main

import (
	"fmt"
	"os"

	"github.com/atotto/clipboard"
	"github.com/fatih/color"
	"github.com/pkg/browser"
	"github.com/urfave/cli"

	"github.com/ringlink/ringlink/localctl"
)

func printFatal(msg string, args ...interface{}) {
	printErr(msg, args...)
	os.Exit(1)
}

func printErr(msg string, args ...interface{}) {
	os.Stderr.WriteString(fmt.Sprintf(msg, args...) + "\n")
}

func authorizeCommand(c *cli.Context) error {
	nickname := c.Args().First()
	if nickname == "" {
		printFatal("usage: ringlinkctl authorize <nickname>")
	}
	res, err := localctl.Authorize(nickname)
	if err != nil {
		printFatal(err.Error())
	}
	if !res.OK {
		printFatal("authorize failed: %s", res.Error)
	}
	color.Green("authorized as %s", nickname)
	return nil
}

func logoutCommand(c *cli.Context) error {
	res, err := localctl.Logout()
	if err != nil {
		printFatal(err.Error())
	}
	if !res.OK {
		printFatal("logout failed: %s", res.Error)
	}
	color.Green("logged out")
	return nil
}

func callCommand(c *cli.Context) error {
	nickname := c.Args().First()
	if nickname == "" {
		printFatal("usage: ringlinkctl call <nickname>")
	}
	res, err := localctl.StartCall(nickname)
	if err != nil {
		printFatal(err.Error())
	}
	if !res.OK {
		printFatal("call failed: %s", res.Error)
	}
	color.Green("calling %s...", nickname)
	return nil
}

func hangupCommand(c *cli.Context) error {
	res, err := localctl.EndCall()
	if err != nil {
		printFatal(err.Error())
	}
	if !res.OK {
		printFatal("hang up failed: %s", res.Error)
	}
	color.Green("call ended")
	return nil
}

func acceptCommand(c *cli.Context) error {
	nickname := c.Args().First()
	if nickname == "" {
		printFatal("usage: ringlinkctl accept <nickname>")
	}
	res, err := localctl.AcceptCall(nickname)
	if err != nil {
		printFatal(err.Error())
	}
	if !res.OK {
		printFatal("accept failed: %s", res.Error)
	}
	color.Green("accepted call from %s", nickname)
	return nil
}

func declineCommand(c *cli.Context) error {
	nickname := c.Args().First()
	if nickname == "" {
		printFatal("usage: ringlinkctl decline <nickname>")
	}
	res, err := localctl.DeclineCall(nickname)
	if err != nil {
		printFatal(err.Error())
	}
	if !res.OK {
		printFatal("decline failed: %s", res.Error)
	}
	color.Yellow("declined call from %s", nickname)
	return nil
}

func statusCommand(c *cli.Context) error {
	snap, err := localctl.Status()
	if err != nil {
		printFatal(err.Error())
	}
	fmt.Printf("nickname: %s\n", snap.Nickname)
	if snap.HasActive {
		color.Green("in call with %s", snap.ActivePeer)
		if snap.PeerDown {
			color.Yellow("  peer connection is down")
		}
	} else if snap.HasOutgoing {
		color.Yellow("calling %s...", snap.OutgoingTarget)
	} else {
		fmt.Println("no active call")
	}
	for _, from := range snap.IncomingFrom {
		color.Cyan("incoming call from %s", from)
	}
	return nil
}

func whoamiCommand(c *cli.Context) error {
	snap, err := localctl.Status()
	if err != nil {
		printFatal(err.Error())
	}
	if snap.Nickname == "" {
		printFatal("not authorized")
	}
	fmt.Println(snap.Nickname)
	if c.Bool("copy") {
		if err := clipboard.WriteAll(snap.Nickname); err != nil {
			printErr("could not copy to clipboard: %s", err.Error())
		} else {
			printErr("nickname copied to clipboard.")
		}
	}
	return nil
}

func historyCommand(c *cli.Context) error {
	entries, err := localctl.History()
	if err != nil {
		printFatal(err.Error())
	}
	if len(entries) == 0 {
		fmt.Println("no calls yet")
		return nil
	}
	for _, e := range entries {
		direction := "incoming"
		if e.Outgoing {
			direction = "outgoing"
		}
		fmt.Printf("%s  %s  %s  %s (%s)\n",
			e.Started.Format("2006-01-02 15:04:05"), direction, e.Peer,
			e.Ended.Sub(e.Started), e.EndReason)
	}
	return nil
}

func eventsCommand(c *cli.Context) error {
	for {
		events, err := localctl.Events()
		if err != nil {
			printFatal(err.Error())
		}
		for _, e := range events {
			switch {
			case e.Nickname != "" && e.Code != "":
				fmt.Printf("%s: %s (%s)\n", e.Kind, e.Nickname, e.Code)
			case e.Nickname != "":
				fmt.Printf("%s: %s\n", e.Kind, e.Nickname)
			case e.Code != "":
				fmt.Printf("%s: %s\n", e.Kind, e.Code)
			default:
				fmt.Println(e.Kind)
			}
		}
	}
}

func dashboardCommand(c *cli.Context) error {
	url := "http://localhost:17717/status"
	if err := browser.OpenURL(url); err != nil {
		printErr("Unable to open browser, please visit %s", url)
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "ringlinkctl"
	app.Usage = "talk to ringlinkd, the RingLink client daemon"
	app.Version = "1.0.0"
	app.Commands = []cli.Command{
		{Name: "authorize", Usage: "ringlinkctl authorize <nickname> -- claim a nickname on the relay", Action: authorizeCommand},
		{Name: "logout", Usage: "Release your nickname and end all calls.", Action: logoutCommand},
		{Name: "call", Usage: "ringlinkctl call <nickname> -- start an outgoing call", Action: callCommand},
		{Name: "hangup", Usage: "End the active call, or cancel an outgoing one.", Action: hangupCommand},
		{Name: "accept", Usage: "ringlinkctl accept <nickname> -- accept an incoming call", Action: acceptCommand},
		{Name: "decline", Usage: "ringlinkctl decline <nickname> -- decline an incoming call", Action: declineCommand},
		{Name: "status", Usage: "Print the current call state.", Action: statusCommand},
		{
			Name:   "whoami",
			Usage:  "Print your authorized nickname.",
			Flags:  []cli.Flag{cli.BoolFlag{Name: "copy", Usage: "also copy it to the clipboard"}},
			Action: whoamiCommand,
		},
		{Name: "history", Usage: "Print recently completed calls.", Action: historyCommand},
		{Name: "events", Usage: "Stream state-transition events as they happen.", Action: eventsCommand},
		{Name: "dashboard", Usage: "Open ringlinkd's local status page in the default browser.", Action: dashboardCommand},
	}
	app.Run(os.Args)
}
