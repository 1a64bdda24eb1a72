package core

import (
	"net"
	"testing"
	"time"
)

func TestProbeConnectivity(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()

	if !NewProbeConnectivity(addr, time.Second).Online() {
		t.Fatal("expected online while the listener is up")
	}

	ln.Close()
	if NewProbeConnectivity(addr, time.Second).Online() {
		t.Fatal("expected offline once the listener is closed")
	}

	if !NewProbeConnectivity("", 0).Online() {
		t.Fatal("an empty probe address should never report offline")
	}
}
