package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/leemwood/lemwood-mirror/internal/admin"
	"github.com/leemwood/lemwood-mirror/internal/api"
	"github.com/leemwood/lemwood-mirror/internal/config"
	"github.com/leemwood/lemwood-mirror/internal/files"
	"github.com/leemwood/lemwood-mirror/internal/prompt"
	"github.com/leemwood/lemwood-mirror/internal/session"
	"github.com/leemwood/lemwood-mirror/internal/version"
)

var (
	configPath string
	serverURL  string
	assumeYes  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mirrorctl",
		Short: "Admin console for the lemwood mirror service",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the console config file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Mirror service URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Skip confirmation prompts")

	loginCmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Authenticate against the mirror service",
		Args:  cobra.MaximumNArgs(1),
		Run:   runLogin,
	}

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Run:   runLogout,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show connection and session state",
		Run:   runStatus,
	}

	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "Browse and manage the storage tree",
	}
	filesLsCmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory of the storage tree",
		Args:  cobra.MaximumNArgs(1),
		Run:   runFilesLs,
	}
	filesGetCmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(1),
		Run:   runFilesGet,
	}
	filesGetCmd.Flags().StringP("out", "o", ".", "Directory to save into")
	filesPutCmd := &cobra.Command{
		Use:   "put <local-file> [remote-dir]",
		Short: "Upload a file into a directory of the storage tree",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runFilesPut,
	}
	filesRmCmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or directory",
		Args:  cobra.ExactArgs(1),
		Run:   runFilesRm,
	}
	filesCmd.AddCommand(filesLsCmd, filesGetCmd, filesPutCmd, filesRmCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the service configuration",
	}
	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current configuration",
		Run:   runConfigShow,
	}
	configSetCmd := &cobra.Command{
		Use:   "set <field> <value> [<field> <value>...]",
		Short: "Change configuration fields by their wire name",
		Args:  validateFieldPairs,
		Run:   runConfigSet,
	}
	launcherAddCmd := &cobra.Command{
		Use:   "launcher-add <name> <source-url> <repo-selector>",
		Short: "Add an upstream launcher source",
		Args:  cobra.ExactArgs(3),
		Run:   runLauncherAdd,
	}
	launcherRmCmd := &cobra.Command{
		Use:   "launcher-rm <index>",
		Short: "Remove a launcher source by its position in config show",
		Args:  cobra.ExactArgs(1),
		Run:   runLauncherRm,
	}
	configCmd.AddCommand(configShowCmd, configSetCmd, launcherAddCmd, launcherRmCmd)

	blacklistCmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Manage the IP blacklist",
	}
	blacklistLsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List blocked addresses",
		Run:   runBlacklistLs,
	}
	blacklistAddCmd := &cobra.Command{
		Use:   "add <ip> [reason]",
		Short: "Block an address",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runBlacklistAdd,
	}
	blacklistRmCmd := &cobra.Command{
		Use:   "rm <ip>",
		Short: "Unblock an address",
		Args:  cobra.ExactArgs(1),
		Run:   runBlacklistRm,
	}
	blacklistCmd.AddCommand(blacklistLsCmd, blacklistAddCmd, blacklistRmCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}
	versionCmd.Flags().Bool("check-update", false, "Check GitHub for a newer release")

	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd, filesCmd, configCmd, blacklistCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fatal(err error) {
	if errors.Is(err, prompt.ErrDeclined) {
		fmt.Println("Cancelled")
		os.Exit(0)
	}
	if errors.Is(err, api.ErrUnauthorized) {
		fmt.Fprintln(os.Stderr, "Error: session expired, run `mirrorctl login` again")
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// setup loads the console config and builds an API client over the
// persisted session.
func setup() (*config.Config, *api.Client) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err)
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	sess := session.New(cfg.TokenPath)
	if err := sess.Load(); err != nil {
		fatal(err)
	}
	client := api.NewClient(cfg.ServerURL, sess, &http.Client{Timeout: cfg.Timeout()})
	return cfg, client
}

func confirmFunc() prompt.Func {
	if assumeYes {
		return prompt.Always()
	}
	return prompt.Terminal(os.Stdin, os.Stdout)
}

// browserAt walks the browser down to the given slash-separated
// directory, one listing per level.
func browserAt(ctx context.Context, client *api.Client, dir string) (*files.Browser, error) {
	b := files.NewBrowser(client, confirmFunc())
	for _, seg := range strings.Split(dir, "/") {
		if seg == "" || seg == "." {
			continue
		}
		if _, err := b.Enter(ctx, seg); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func runLogin(cmd *cobra.Command, args []string) {
	cfg, client := setup()
	ctx := context.Background()

	username := cfg.Username
	if len(args) == 1 {
		username = args[0]
	}

	info, err := client.AuthInfo(ctx)
	if err != nil {
		fatal(err)
	}
	if username == "" {
		username = info.Username
	}

	fmt.Printf("Password for %s: ", username)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		fatal(err)
	}
	password := strings.TrimRight(line, "\r\n")

	if err := client.Login(ctx, username, password); err != nil {
		fatal(err)
	}
	fmt.Println("Logged in")
}

func runLogout(cmd *cobra.Command, args []string) {
	_, client := setup()
	if err := client.Logout(); err != nil {
		fatal(err)
	}
	fmt.Println("Logged out")
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, client := setup()
	ctx := context.Background()

	fmt.Printf("Server: %s\n", cfg.ServerURL)
	fmt.Printf("Session: %s\n", client.State())

	info, err := client.AuthInfo(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach %s\n", cfg.ServerURL)
		os.Exit(1)
	}
	fmt.Printf("Admin user: %s\n", info.Username)
}

func runFilesLs(cmd *cobra.Command, args []string) {
	_, client := setup()
	ctx := context.Background()

	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}
	b, err := browserAt(ctx, client, dir)
	if err != nil {
		fatal(err)
	}
	entries, err := b.List(ctx)
	if err != nil {
		fatal(err)
	}

	if len(entries) == 0 {
		fmt.Println("Empty directory")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
	for _, e := range entries {
		if e.Parent {
			continue
		}
		if e.IsDir {
			fmt.Fprintf(w, "%s/\t-\t%s\n", e.Name, e.ModTime.Format("2006-01-02 15:04"))
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Name, humanSize(e.Size), e.ModTime.Format("2006-01-02 15:04"))
		}
	}
	w.Flush()
}

func runFilesGet(cmd *cobra.Command, args []string) {
	_, client := setup()
	ctx := context.Background()

	dir, name := path.Split(args[0])
	outDir, _ := cmd.Flags().GetString("out")

	b, err := browserAt(ctx, client, dir)
	if err != nil {
		fatal(err)
	}
	local, err := b.SaveTo(ctx, name, outDir)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Saved %s\n", local)
}

func runFilesPut(cmd *cobra.Command, args []string) {
	_, client := setup()
	ctx := context.Background()

	dir := ""
	if len(args) == 2 {
		dir = args[1]
	}
	b, err := browserAt(ctx, client, dir)
	if err != nil {
		fatal(err)
	}
	u := files.NewUploader(client, b)
	if _, err := u.Upload(ctx, args[0]); err != nil {
		fatal(err)
	}
	fmt.Println("File uploaded")
}

func runFilesRm(cmd *cobra.Command, args []string) {
	_, client := setup()
	ctx := context.Background()

	dir, name := path.Split(args[0])
	b, err := browserAt(ctx, client, dir)
	if err != nil {
		fatal(err)
	}
	if _, err := b.Delete(ctx, name); err != nil {
		fatal(err)
	}
	fmt.Printf("Deleted %s\n", args[0])
}

func runConfigShow(cmd *cobra.Command, args []string) {
	_, client := setup()

	form, err := admin.NewEditor(client).Load(context.Background())
	if err != nil {
		fatal(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "server_address\t%s\n", form.ServerAddress)
	fmt.Fprintf(w, "server_port\t%d\n", form.ServerPort)
	fmt.Fprintf(w, "check_cron\t%s\n", form.CheckCron)
	fmt.Fprintf(w, "storage_path\t%s\n", form.StoragePath)
	fmt.Fprintf(w, "download_url_base\t%s\n", form.DownloadURLBase)
	fmt.Fprintf(w, "admin_user\t%s\n", form.AdminUser)
	fmt.Fprintf(w, "proxy_url\t%s\n", form.ProxyURL)
	fmt.Fprintf(w, "asset_proxy_url\t%s\n", form.AssetProxyURL)
	fmt.Fprintf(w, "concurrent_downloads\t%d\n", form.ConcurrentDownloads)
	fmt.Fprintf(w, "download_timeout_minutes\t%d\n", form.DownloadTimeoutMinutes)
	fmt.Fprintf(w, "xget_enabled\t%t\n", form.XgetEnabled)
	fmt.Fprintf(w, "xget_domain\t%s\n", form.XgetDomain)
	w.Flush()

	if len(form.Launchers) > 0 {
		fmt.Println("\nLaunchers:")
		lw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(lw, "#\tNAME\tSOURCE\tSELECTOR")
		for i, l := range form.Launchers {
			fmt.Fprintf(lw, "%d\t%s\t%s\t%s\n", i, l.Name, l.SourceURL, l.RepoSelector)
		}
		lw.Flush()
	}
}

func validateFieldPairs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 || len(args)%2 != 0 {
		return fmt.Errorf("expected <field> <value> pairs")
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) {
	_, client := setup()
	ctx := context.Background()
	editor := admin.NewEditor(client)

	form, err := editor.Load(ctx)
	if err != nil {
		fatal(err)
	}
	for i := 0; i < len(args); i += 2 {
		if err := form.Set(args[i], args[i+1]); err != nil {
			fatal(err)
		}
	}
	if _, err := editor.Save(ctx, form); err != nil {
		fatal(err)
	}
	fmt.Println("Config updated")
}

func runLauncherAdd(cmd *cobra.Command, args []string) {
	_, client := setup()
	ctx := context.Background()
	editor := admin.NewEditor(client)

	form, err := editor.Load(ctx)
	if err != nil {
		fatal(err)
	}
	form.AddLauncher(admin.Launcher{Name: args[0], SourceURL: args[1], RepoSelector: args[2]})
	if _, err := editor.Save(ctx, form); err != nil {
		fatal(err)
	}
	fmt.Println("Config updated")
}

func runLauncherRm(cmd *cobra.Command, args []string) {
	_, client := setup()
	ctx := context.Background()
	editor := admin.NewEditor(client)

	index, err := strconv.Atoi(args[0])
	if err != nil {
		fatal(fmt.Errorf("index %q is not a number", args[0]))
	}

	form, err := editor.Load(ctx)
	if err != nil {
		fatal(err)
	}
	if err := form.RemoveLauncher(index); err != nil {
		fatal(err)
	}
	if _, err := editor.Save(ctx, form); err != nil {
		fatal(err)
	}
	fmt.Println("Config updated")
}

func runBlacklistLs(cmd *cobra.Command, args []string) {
	_, client := setup()

	entries, err := admin.NewBlacklist(client, confirmFunc()).List(context.Background())
	if err != nil {
		fatal(err)
	}
	if len(entries) == 0 {
		fmt.Println("Blacklist is empty")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IP\tREASON\tADDED")
	for _, e := range entries {
		reason := e.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.IP, reason, e.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func runBlacklistAdd(cmd *cobra.Command, args []string) {
	_, client := setup()

	reason := ""
	if len(args) == 2 {
		reason = args[1]
	}
	if _, err := admin.NewBlacklist(client, confirmFunc()).Add(context.Background(), args[0], reason); err != nil {
		fatal(err)
	}
	fmt.Printf("Blocked %s\n", args[0])
}

func runBlacklistRm(cmd *cobra.Command, args []string) {
	_, client := setup()

	if _, err := admin.NewBlacklist(client, confirmFunc()).Remove(context.Background(), args[0]); err != nil {
		fatal(err)
	}
	fmt.Printf("Unblocked %s\n", args[0])
}

func runVersion(cmd *cobra.Command, args []string) {
	info := version.GetInfo()
	fmt.Printf("mirrorctl v%s\n", info["version"])
	fmt.Printf("Commit: %s\n", info["git_commit"])
	fmt.Printf("Built: %s\n", info["build_time"])

	if check, _ := cmd.Flags().GetBool("check-update"); check {
		update := version.CheckForUpdates(context.Background(), "leemwood", "lemwood-mirror")
		switch {
		case update.Error != "":
			fmt.Printf("Update check: %s\n", update.Error)
		case update.UpdateAvailable:
			fmt.Printf("Update available: v%s (%s)\n", update.LatestVersion, update.ReleaseURL)
		default:
			fmt.Println("Up to date")
		}
	}
}
