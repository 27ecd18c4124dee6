package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/olekukonko/tablewriter"
	"github.com/tidwall/gjson"

	"rdb"
)

func formatResponse(response *rdb.Response, w io.Writer) {
	if response.Error != "" {
		fmt.Fprintln(w, "error:", response.Error)
		return
	}
	if response.Message != "" {
		fmt.Fprintln(w, response.Message)
		return
	}

	rows := gjson.ParseBytes(response.JSON)
	if !rows.IsArray() {
		fmt.Fprintln(w, string(response.JSON))
		return
	}

	var columns []string
	seen := map[string]bool{}
	rows.ForEach(func(_, row gjson.Result) bool {
		row.ForEach(func(key, _ gjson.Result) bool {
			name := key.String()
			if !seen[name] {
				seen[name] = true
				columns = append(columns, name)
			}
			return true
		})
		return true
	})

	table := tablewriter.NewWriter(w)
	table.SetHeader(columns)
	rows.ForEach(func(_, row gjson.Result) bool {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = row.Get(col).String()
		}
		table.Append(cells)
		return true
	})
	table.Render()
}

func runCLI(history string, conn net.Conn) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: history,
	})
	if err != nil {
		fmt.Println("failed to initialize readline", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var q rdb.Query
		if err := json.Unmarshal([]byte(line), &q); err != nil {
			fmt.Println("failed to parse query:", err)
			continue
		}
		if q.Database == "" {
			q.Database = "main"
		}

		if err := rdb.SendQuery(conn, &q); err != nil {
			log.Fatal("failed to send query:", err)
		}

		response, err := rdb.ReceiveResponse(conn)
		if err != nil {
			log.Fatal("failed to receive response:", err)
		}
		if response != nil {
			formatResponse(response, os.Stdout)
		}
	}
}

func main() {
	addr := flag.String("addr", "localhost:1337", "address of the server")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatal("failed to connect to server", err)
	}
	defer conn.Close()

	currentDir, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	history := filepath.Join(currentDir, "history.txt")
	runCLI(history, conn)
}
