package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sengoo/sengoohost/internal/admin"
	"github.com/sengoo/sengoohost/internal/auth"
	"github.com/sengoo/sengoohost/internal/config"
	"github.com/sengoo/sengoohost/internal/discovery"
	"github.com/sengoo/sengoohost/internal/extension"
	"github.com/sengoo/sengoohost/internal/metrics"
	"github.com/sengoo/sengoohost/internal/registry"
	"github.com/sengoo/sengoohost/internal/session"
	"github.com/sengoo/sengoohost/internal/tick"
	"github.com/sengoo/sengoohost/internal/watch"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("sengoohost starting...")

	cfg := config.Load()

	banIP, err := auth.LoadTokens(cfg.Files.BanIP)
	if err != nil {
		log.Fatalf("loading ban IP list: %v", err)
	}
	tempBanIP, err := auth.LoadTokens(cfg.Files.TempBanIP)
	if err != nil {
		log.Fatalf("loading temp ban IP list: %v", err)
	}
	banUUID, err := auth.LoadTokens(cfg.Files.BanUUID)
	if err != nil {
		log.Fatalf("loading ban UUID list: %v", err)
	}

	verifyOpts := auth.VerifyOptions{
		PasswordStrip32:  cfg.Auth.PasswordStrip32,
		RSADecryptEnable: cfg.Auth.RSADecryptEnable,
	}
	if cfg.Auth.RSADecryptEnable {
		verifyOpts.Decryptor = auth.NewOpenSSLDecryptor(cfg.Auth.OpenSSLExe, cfg.Files.RSAPrivateKey, 0)
	}

	store := auth.NewStore(cfg.Files.UserFile, cfg.Files.UUIDBinding)
	authSvc, err := auth.NewService(store, cfg.Files.Whitelist, cfg.Files.BanWords, cfg.Auth.MaxPlayersPerDevice, cfg.Auth.AutoRegister, cfg.Auth.UserDBEnable, verifyOpts)
	if err != nil {
		log.Fatalf("constructing auth service: %v", err)
	}

	var bootstrapper extension.Bootstrapper
	if cfg.Extension.Bootstrap {
		bootstrapper = extension.NewExecBootstrapper(cfg.Extension.LuaExe, 0)
	}
	reg := registry.New(cfg.Files.Registry, []string{cfg.Files.ExtensionCoreEntry}, bootstrapper)
	if _, err := reg.Refresh(); err != nil {
		log.Fatalf("initial registry load: %v", err)
	}

	sessCfg := session.Config{
		Capacity:         cfg.Server.Capacity,
		MaxPacketBytes:   cfg.Network.MaxPacketBytes,
		SignupTimeout:    cfg.Auth.SignupTimeout,
		SendNetworkDelay: cfg.Auth.SendNetworkDelay,
		FakeRSAPublicKey: cfg.Server.FakeRSAPublicKey,
		EnforceMD5:       cfg.Auth.EnforceMD5 && cfg.Server.MD5 != "",
		ExpectedMD5:      cfg.Server.MD5,
		DefaultAvatar:    cfg.Server.DefaultAvatar,
		MOTD:             cfg.Server.MOTD,
		ServerVersion:    cfg.Server.Version,
	}
	if path := cfg.Files.RSAPublicKey; path != "" {
		if key, err := os.ReadFile(path); err == nil {
			sessCfg.RSAPublicKey = key
		} else {
			log.Printf("warning: reading RSA public key %s: %v", path, err)
		}
	}
	sessions := session.NewManager(sessCfg, authSvc, reg, banIP, tempBanIP, banUUID)

	m := metrics.New()
	sessions.SetMetrics(m)

	watchPaths := nonEmpty(cfg.Files.Registry, cfg.Files.BanIP, cfg.Files.TempBanIP, cfg.Files.BanUUID)
	watcher, err := watch.New(watchPaths...)
	if err != nil {
		log.Printf("warning: file watcher not available: %v", err)
	}

	ln, err := net.Listen("tcp", addrFor(cfg.Network.TCPPort))
	if err != nil {
		log.Fatalf("listening on TCP port %d: %v", cfg.Network.TCPPort, err)
	}
	tcpLn := ln.(*net.TCPListener)

	udpResponder, err := discovery.Listen(addrFor(cfg.Network.UDPPort), func() discovery.Info {
		return discovery.Info{
			Version:     cfg.Server.Version,
			IconURL:     cfg.Server.IconURL,
			Description: cfg.Server.Description,
			Capacity:    cfg.Server.Capacity,
			Online:      sessions.ActiveCount(),
		}
	})
	if err != nil {
		log.Fatalf("listening on UDP port %d: %v", cfg.Network.UDPPort, err)
	}

	driver := tick.NewDriver(tick.Config{
		MaxAcceptPerTick: cfg.Network.MaxAcceptPerTick,
		MaxPacketBytes:   cfg.Network.MaxPacketBytes,
		TickSleep:        cfg.Network.TickSleep,
		BusySleep:        cfg.Network.BusySleep,
		ExtensionRefresh: cfg.Server.ExtensionRefresh,
	}, tcpLn, sessions, reg, udpResponder, watcher)
	driver.SetMetrics(m)

	var adminServer *admin.Server
	if cfg.Admin.Addr != "" {
		pub := admin.NewPublisher()
		driver.SetAdminPublisher(pub)
		adminServer = admin.NewServer(pub, m)
		if err := adminServer.Start(cfg.Admin.Addr); err != nil {
			log.Printf("warning: admin http surface not available: %v", err)
			adminServer = nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go driver.Run(ctx)

	log.Printf("sengoohost ready - tcp:%d udp:%d capacity:%d", cfg.Network.TCPPort, cfg.Network.UDPPort, cfg.Server.Capacity)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %s, shutting down...", sig)

	cancel()
	if adminServer != nil {
		_ = adminServer.Stop()
	}
	if watcher != nil {
		_ = watcher.Stop()
	}
	_ = udpResponder.Close()
	_ = tcpLn.Close()
	reg.Shutdown()

	log.Printf("sengoohost stopped")
}

func addrFor(port int) string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
}

func nonEmpty(paths ...string) []string {
	var out []string
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
