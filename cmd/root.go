package cmd

import (
	"bufio"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvelluri/parget/internal/manager"
	"github.com/nvelluri/parget/internal/output"
	"github.com/nvelluri/parget/internal/utils"
)

var (
	outputPath    string
	connections   int
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	profilePath   string
	debug         bool
	quiet         bool
	showParts     bool
	noInput       bool
)

var PargetVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "parget <url>",
	Short:   "Parget is a parallel segmented download tool",
	Version: PargetVersion,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		url := args[0]
		if _, err := u.Parse(url); err != nil {
			output.PrintError("Invalid URL format")
			os.Exit(1)
		}
		if userAgent == "randomize" {
			userAgent = utils.GetRandomUserAgent()
		}
		// Check if proxy URL contains auth
		parsedProxy, err := u.Parse(proxyURL)
		if err == nil && parsedProxy.User != nil && proxyUsername == "" {
			proxyUsername = parsedProxy.User.Username()
			if password, set := parsedProxy.User.Password(); set {
				proxyPassword = password
			}
			parsedProxy.User = nil
			proxyURL = parsedProxy.String()
		}
		clientConfig := utils.HTTPClientConfig{
			Timeout:       timeout,
			KATimeout:     kaTimeout,
			ProxyURL:      proxyURL,
			ProxyUsername: proxyUsername,
			ProxyPassword: proxyPassword,
			UserAgent:     userAgent,
			Headers:       utils.ParseHeaderArgs(headers),
		}
		if profilePath != "" {
			profile, err := utils.ReadProfile(profilePath)
			if err != nil {
				output.PrintError(fmt.Sprintf("Failed to read profile: %v", err))
				os.Exit(1)
			}
			clientConfig = mergeProfile(clientConfig, profile)
			if !cmd.Flags().Changed("connections") && profile.Connections > 0 {
				connections = profile.Connections
			}
		}

		label := outputPath
		if label == "" {
			label = url
		}
		renderer := output.NewRenderer(label, showParts, quiet)
		job := manager.NewJob(url, outputPath, connections, clientConfig)
		mgr := manager.New(job,
			manager.WithProgressFunc(renderer.OnProgress),
			manager.WithSegmentProgressFunc(renderer.OnSegmentProgress),
		)
		startTime := time.Now()
		if err := mgr.Start(); err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		go handleInterrupt(mgr, renderer)
		if !noInput {
			go handleControlInput(mgr, renderer)
		}

		err = mgr.Wait()
		switch mgr.State() {
		case manager.Completed:
			snap := mgr.Snapshot()
			elapsed := time.Since(startTime).Seconds()
			avg := 0.0
			if elapsed > 0 {
				avg = float64(snap.DownloadedBytes) / elapsed
			}
			renderer.Finish(true, fmt.Sprintf("Downloaded %s to %s in %.1fs (%s avg)",
				utils.FormatBytes(uint64(snap.DownloadedBytes)), mgr.OutputPath(), elapsed, utils.FormatSpeed(avg)))
		case manager.Stopped:
			renderer.Finish(false, "Download stopped, partial segment files kept for inspection")
		default:
			renderer.Finish(false, fmt.Sprintf("Download failed: %v", err))
			os.Exit(1)
		}
	},
}

// handleInterrupt maps the first SIGINT to a cooperative stop and the second
// to a hard exit.
func handleInterrupt(mgr *manager.Manager, renderer *output.Renderer) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	renderer.SetStatus("stopping")
	mgr.Stop()
	<-sigCh
	os.Exit(130)
}

// handleControlInput reads line commands from stdin: p pauses, r resumes,
// s stops. This is the reference consumer of the manager's control surface.
func handleControlInput(mgr *manager.Manager, renderer *output.Renderer) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "p":
			mgr.Pause()
			renderer.SetStatus("paused")
		case "r":
			mgr.Resume()
			renderer.SetStatus("running")
		case "s", "q":
			renderer.SetStatus("stopping")
			mgr.Stop()
			return
		}
	}
}

func mergeProfile(cfg utils.HTTPClientConfig, profile *utils.Profile) utils.HTTPClientConfig {
	if cfg.Timeout == 0 {
		cfg.Timeout = profile.Client.Timeout
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = profile.Client.KATimeout
	}
	if cfg.ProxyURL == "" {
		cfg.ProxyURL = profile.Client.ProxyURL
		cfg.ProxyUsername = profile.Client.ProxyUsername
		cfg.ProxyPassword = profile.Client.ProxyPassword
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = profile.Client.UserAgent
	}
	for k, v := range profile.Client.Headers {
		if _, ok := cfg.Headers[k]; !ok {
			cfg.Headers[k] = v
		}
	}
	return cfg
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the server or URL if not provided)")
	rootCmd.Flags().IntVarP(&connections, "connections", "c", 4, "Number of parallel segments")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Connection timeout (default 60s)")
	rootCmd.Flags().DurationVar(&kaTimeout, "ka-timeout", 0, "Keep-alive timeout (default 60s)")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", "", "User agent ('randomize' picks one from a local list)")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/SOCKS5 proxy URL (e.g., proxy.example.com:1080)")
	rootCmd.Flags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username")
	rootCmd.Flags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Custom headers (key:value), repeatable")
	rootCmd.Flags().StringVar(&profilePath, "profile", "", "Path to YAML profile with client defaults")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress the progress display")
	rootCmd.Flags().BoolVar(&showParts, "parts", false, "Show per-segment progress")
	rootCmd.Flags().BoolVar(&noInput, "no-input", false, "Disable stdin pause/resume/stop commands")
	rootCmd.AddCommand(newCleanCmd())
}
