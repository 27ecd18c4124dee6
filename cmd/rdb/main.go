package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"rdb"
)

// runQuery turns one REPL line into a Query. Lines are JSON objects
// matching rdb.Query's shape, e.g.:
//
//	{"op":"select","database":"main","table":"users","select":{"columns":["*"]}}
func runQuery(executor *rdb.Executor, line string) (rdb.Result, error) {
	var q rdb.Query
	if err := json.Unmarshal([]byte(line), &q); err != nil {
		return rdb.Result{}, err
	}
	if q.Database == "" {
		q.Database = "main"
	}
	return executor.Execute(&q)
}

func printResult(res rdb.Result, w *os.File) {
	if res.Message != "" {
		fmt.Fprintln(w, res.Message)
		return
	}

	rows := gjson.Parse(res.JSON)
	if !rows.IsArray() {
		fmt.Fprintln(w, res.JSON)
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

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		logrus.WithError(err).Fatal("failed to get cwd")
	}

	dataDir := flag.String("data", cwd, "data directory")
	capacity := flag.Int("cache-pages", 1024, "buffer pool capacity, in pages")
	flag.Parse()

	engine, err := rdb.OpenEngine(*dataDir, *capacity)
	if err != nil {
		logrus.WithError(err).Fatal("failed to open engine")
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logrus.WithError(err).Error("failed to close engine")
		}
	}()

	if err := engine.CreateDatabase("main"); err != nil && !strings.Contains(err.Error(), "already exists") {
		logrus.WithError(err).Fatal("failed to initialize main database")
	}

	rl, err := readline.New("rdb> ")
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize readline")
	}
	defer rl.Close()

	executor := engine.Executor()
	for {
		line, err := rl.Readline()
		if err != nil {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		res, err := runQuery(executor, line)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		printResult(res, os.Stdout)
	}
}
