package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"

	"rdb"
)

func handleClient(executor *rdb.Executor, conn net.Conn) {
	defer conn.Close()
	log := logrus.WithField("remote", conn.RemoteAddr())

	for {
		q, err := rdb.ReceiveQuery(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info("connection closed")
				return
			}
			log.WithError(err).Warn("failed to receive query")
			return
		}
		if q == nil {
			return
		}

		log.WithField("op", q.Op).Info("running query")

		res, err := executor.Execute(q)
		var response rdb.Response
		if err != nil {
			log.WithError(err).Warn("query failed")
			response = rdb.ErrorResponse(err)
		} else {
			response = rdb.ResponseFromResult(res)
		}

		if err := rdb.SendResponse(conn, &response); err != nil {
			log.WithError(err).Warn("failed to send response")
			return
		}
	}
}

func runServer(ctx context.Context, executor *rdb.Executor, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		logrus.WithField("remote", conn.RemoteAddr()).Info("connected")
		go handleClient(executor, conn)
	}
}

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		logrus.WithError(err).Fatal("failed to get cwd")
	}

	dataDir := flag.String("data", cwd, "data directory")
	addr := flag.String("addr", "localhost:1337", "address to bind to")
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

	if err := engine.CreateDatabase("main"); err != nil {
		logrus.WithError(err).Debug("main database already present")
	}

	logrus.WithField("addr", *addr).Info("starting server")

	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		cancel()
	}()

	if err := runServer(ctx, engine.Executor(), *addr); err != nil {
		logrus.WithError(err).Fatal("server error")
	}

	logrus.Info("closed successfully")
}
