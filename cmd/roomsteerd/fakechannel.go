package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/nextlevelbuilder/roomsteer/internal/rooms"
)

// runFakeChannel is the fake/test transport: it reads lines from stdin and
// routes them through the room's handler, printing replies to stdout. Lines
// prefixed with "@" are treated as explicitly addressed to the bot (the
// command path); everything else is a passive, unaddressed message (the
// proactive/debounce path). This stands in for a real chat transport, which
// is out of this repo's scope.
func runFakeChannel(ctx context.Context, reg *handlerRegistry, roomName string) error {
	const (
		serverTag = "demo"
		myNick    = "roomsteerd"
	)

	fmt.Println("roomsteerd fake channel — lines starting with '@' are addressed commands, others are passive messages. Ctrl-D to quit.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	var triggerCounter int64

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			h := reg.get()
			if h == nil {
				fmt.Println("(room not ready)")
				continue
			}

			reply := func(text string) error {
				fmt.Printf("[%s] %s\n", myNick, text)
				return nil
			}

			if content, addressed := strings.CutPrefix(line, "@"); addressed {
				msg := rooms.RoomMessage{
					ServerTag:   serverTag,
					ChannelName: roomName,
					Nick:        "demo-user",
					MyNick:      myNick,
					Content:     content,
					Arc:         serverTag + "#" + roomName,
				}
				triggerMessageID := atomic.AddInt64(&triggerCounter, 1)
				if err := h.HandleCommand(ctx, msg, triggerMessageID, reply); err != nil {
					fmt.Printf("(error: %v)\n", err)
				}
				continue
			}

			msg := rooms.RoomMessage{
				ServerTag:   serverTag,
				ChannelName: roomName,
				Nick:        "demo-user",
				MyNick:      myNick,
				Content:     line,
				Arc:         serverTag + "#" + roomName,
			}
			if err := h.HandlePassiveMessage(ctx, msg, reply); err != nil {
				fmt.Printf("(error: %v)\n", err)
			}
		}
	}
}
