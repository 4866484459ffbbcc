package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dougsko/tonecodec/pkg/client"
	"github.com/dougsko/tonecodec/pkg/keyhash"
)

var (
	socketPath = flag.String("socket", "/tmp/tonecodecd.sock", "Unix socket path")
	command    = flag.String("cmd", "", "Command to send (e.g., 'STATUS', 'HISTORY:10')")
	timeout    = flag.Duration("timeout", 30*time.Second, "Command timeout")

	encodeMsg  = flag.String("encode", "", "Encode this message into a WAV file on the daemon host")
	decodePath = flag.String("decode", "", "Decode this WAV file on the daemon host")
	output     = flag.String("output", "", "Output path for -encode (daemon chooses when empty)")
	key        = flag.String("key", "", "Key string")
	passphrase = flag.String("passphrase", "", "Passphrase to hash into the key (overrides -key)")
)

func main() {
	flag.Parse()

	if *socketPath == "" {
		fmt.Fprintf(os.Stderr, "Socket path is required\n")
		os.Exit(1)
	}

	// Create socket client
	client := client.NewSocketClient(*socketPath)
	client.SetTimeout(*timeout)

	k := *key
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "passphrase" {
			k = keyhash.Derive(*passphrase)
		}
	})

	switch {
	case *encodeMsg != "":
		result, err := client.EncodeFile(*encodeMsg, k, *output)
		if err != nil {
			fail(err)
		}
		printJSON(result)
		return

	case *decodePath != "":
		result, err := client.DecodeFile(*decodePath, k)
		if err != nil {
			fail(err)
		}
		fmt.Println(result.Message)
		return
	}

	// If no command specified, show interactive help
	if *command == "" {
		if len(flag.Args()) > 0 {
			*command = strings.Join(flag.Args(), " ")
		} else {
			showHelp()
			return
		}
	}

	// Send command
	response, err := client.SendCommand(*command)
	if err != nil {
		fail(err)
	}

	// Print response
	fmt.Printf("%s\n", response.String())
	if !response.Success {
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func showHelp() {
	fmt.Println("tonectl - tone codec daemon control tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command>\n", os.Args[0])
	fmt.Printf("  %s -encode <message> [-key <key> | -passphrase <text>] [-output <path>]\n", os.Args[0])
	fmt.Printf("  %s -decode <path> [-key <key> | -passphrase <text>]\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -socket <path>    Unix socket path (default: /tmp/tonecodecd.sock)")
	fmt.Println("  -cmd <command>    Command to send")
	fmt.Println("  -timeout <dur>    Command timeout (default: 30s)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  PING                      Test connection")
	fmt.Println("  STATUS                    Get daemon status")
	fmt.Println("  HASHKEY:<text>            Derive a key from text")
	fmt.Println("  HISTORY                   Get recent job records")
	fmt.Println("  HISTORY:10                Get last 10 job records")
	fmt.Println("  HISTORY:DECODE:10         Get last 10 decode records")
	fmt.Println("  STATS                     Get history statistics")
	fmt.Println("  CLEANUP                   Apply the history retention limit")
	fmt.Println("  {\"type\":\"ENCODE\",...}     ENCODE and DECODE take the JSON form")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s STATUS\n", os.Args[0])
	fmt.Printf("  %s -encode 'Hello, World!' -passphrase 'open sesame' -output /tmp/hello.wav\n", os.Args[0])
	fmt.Printf("  %s -decode /tmp/hello.wav -passphrase 'open sesame'\n", os.Args[0])
	fmt.Printf("  echo 'HISTORY:5' | nc -U /tmp/tonecodecd.sock\n")
}
