package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"homeproxy/arbitration"
	"homeproxy/bridge"
	"homeproxy/db"
	"homeproxy/gateway"
	"homeproxy/oracle"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("BRIDGE_JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("BRIDGE_JWT_SECRET is required")
	}
	oracleURL := os.Getenv("ORACLE_BASE_URL")
	if oracleURL == "" {
		log.Fatal("ORACLE_BASE_URL is required")
	}

	ledger := arbitration.NewRepository(pool)
	arbService := arbitration.NewService(pool, ledger, oracle.New(oracleURL), bridge.NewOutbox())
	gatewayService := gateway.NewService(gateway.NewConfigRepository(pool), arbService)

	server := &Server{
		gatewayService: gatewayService,
		ledger:         ledger,
		outbox:         bridge.NewRepository(pool),
		verifier:       gateway.NewTokenVerifier(jwtSecret),
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	log.Printf("home proxy listening on %s", addr)
	if err := http.ListenAndServe(addr, server.routes()); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
