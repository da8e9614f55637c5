package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"listsync/internal/settings"
	"listsync/internal/syncclient"
	"listsync/internal/types"
)

func main() {
	if err := mainInner(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "http://localhost:3000", "the server base url")
	settingsVar := flag.String("settings", "listsync-client.yml", "path to the settings file")
	pseudoVar := flag.String("pseudo", "", "override the pseudo from the settings file")
	listVar := flag.String("list", "", "override the list id from the settings file")
	flag.Parse()

	cfg, err := settings.Load(*settingsVar)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if *pseudoVar != "" {
		cfg.Pseudo = *pseudoVar
	}
	if *listVar != "" {
		cfg.ListID = *listVar
	}
	if cfg.Pseudo == "" {
		return fmt.Errorf("no pseudo configured: pass -pseudo or edit %s", *settingsVar)
	}
	if err := settings.Save(*settingsVar, cfg); err != nil {
		log.WithError(err).Warn("failed to persist settings")
	}

	c, err := syncclient.New(*addrVar)
	if err != nil {
		return err
	}
	defer c.Dispose()

	ctx := context.Background()
	if err := c.Init(ctx, cfg.ListID); err != nil {
		return fmt.Errorf("failed to open list %q: %w", cfg.ListID, err)
	}
	fmt.Printf("connected to %s as %q, list %q\n", *addrVar, cfg.Pseudo, cfg.ListID)
	printItems(c.Items())

	go func() {
		for items := range c.Updates() {
			printItems(items)
		}
	}()
	go func() {
		for msg := range c.Notices() {
			if msg != "" {
				fmt.Printf("! %s\n", msg)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: add <label> | toggle <n> | label <n> <text> | rm <n> | ls | list <id> | quit")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "add":
			if err := c.AddItem(ctx, rest, cfg.Pseudo); err != nil {
				continue // already surfaced on the notice stream
			}
		case "toggle":
			if item, ok := itemAt(c.Items(), rest); ok {
				_ = c.ToggleStatus(ctx, item.ID)
			}
		case "label":
			idx, text, _ := strings.Cut(rest, " ")
			if item, ok := itemAt(c.Items(), idx); ok {
				_ = c.UpdateLabel(ctx, item.ID, text)
			}
		case "rm":
			if item, ok := itemAt(c.Items(), rest); ok {
				_ = c.DeleteItem(ctx, item.ID)
			}
		case "ls":
			printItems(c.Items())
		case "list":
			id := strings.TrimSpace(rest)
			if id == "" {
				fmt.Println("usage: list <id>")
				continue
			}
			c.SetListID(id)
			if err := c.Init(ctx, id); err != nil {
				continue
			}
			cfg.ListID = id
			if err := settings.Save(*settingsVar, cfg); err != nil {
				log.WithError(err).Warn("failed to persist settings")
			}
		case "quit", "exit":
			return nil
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
	return scanner.Err()
}

func itemAt(items []types.Item, arg string) (types.Item, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 || n > len(items) {
		fmt.Printf("no item %q\n", strings.TrimSpace(arg))
		return types.Item{}, false
	}
	return items[n-1], true
}

func printItems(items []types.Item) {
	if len(items) == 0 {
		fmt.Println("(empty list)")
		return
	}
	for i, item := range items {
		mark := " "
		if item.Status == types.StatusBought {
			mark = "x"
		}
		fmt.Printf("%2d. [%s] %s (%s)\n", i+1, mark, item.Label, item.AddedBy)
	}
}
