package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"
	. "github.com/warpfork/go-errcat"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/polydawn/addongit/api"
	"github.com/polydawn/addongit/config"
	"github.com/polydawn/addongit/gitstore"
)

/*
	Output serialization formats
*/
const (
	FmtJson = "json"
	FmtDumb = "dumb"
)

type baseCLI struct {
	Format  string // Output api format, eg. json
	Verbose bool   // Emit log events on stderr
	Kind    string // Package kind: addon or source
	InitCLI struct {
		ArtifactID string
	}
	CommitCLI struct {
		ArtifactID  string
		Archive     string // Path to the uploaded archive
		Channel     string
		Message     string
		AuthorName  string // Blank means the service identity
		AuthorEmail string
		Retries     uint64 // How many times to retry a branch conflict
	}
	LogCLI struct {
		ArtifactID string
		Channel    string
	}
	LsTreeCLI struct {
		ArtifactID string
		CommitID   string
	}
}

func configureKind(cli *baseCLI, cmd *kingpin.CmdClause) {
	cmd.Flag("kind", "Which of the artifact's repositories [addon, source]").
		Default(string(api.PackageKind_Addon)).
		EnumVar(&cli.Kind,
			string(api.PackageKind_Addon), string(api.PackageKind_Source))
}

func configureChannel(target *string, cmd *kingpin.CmdClause) {
	cmd.Flag("channel", "Release channel [listed, unlisted]").
		Required().
		EnumVar(target,
			string(api.Channel_Listed), string(api.Channel_Unlisted))
}

func configureInit(cli *baseCLI, appInit *kingpin.CmdClause) {
	appInit.Arg("artifact", "Artifact ID").
		Required().
		StringVar(&cli.InitCLI.ArtifactID)
	configureKind(cli, appInit)
}

func configureCommit(cli *baseCLI, appCommit *kingpin.CmdClause) {
	appCommit.Arg("artifact", "Artifact ID").
		Required().
		StringVar(&cli.CommitCLI.ArtifactID)
	appCommit.Arg("archive", "Archive to extract and commit").
		Required().
		StringVar(&cli.CommitCLI.Archive)
	configureChannel(&cli.CommitCLI.Channel, appCommit)
	appCommit.Flag("message", "Commit message").
		Short('m').
		Required().
		StringVar(&cli.CommitCLI.Message)
	appCommit.Flag("author-name", "Author name (defaults to the service identity)").
		StringVar(&cli.CommitCLI.AuthorName)
	appCommit.Flag("author-email", "Author email").
		StringVar(&cli.CommitCLI.AuthorEmail)
	appCommit.Flag("retries", "Times to retry when the branch moved underneath us").
		Default("0").
		Uint64Var(&cli.CommitCLI.Retries)
	configureKind(cli, appCommit)
}

func configureLog(cli *baseCLI, appLog *kingpin.CmdClause) {
	appLog.Arg("artifact", "Artifact ID").
		Required().
		StringVar(&cli.LogCLI.ArtifactID)
	configureChannel(&cli.LogCLI.Channel, appLog)
	configureKind(cli, appLog)
}

func configureLsTree(cli *baseCLI, appLsTree *kingpin.CmdClause) {
	appLsTree.Arg("artifact", "Artifact ID").
		Required().
		StringVar(&cli.LsTreeCLI.ArtifactID)
	appLsTree.Arg("commit", "Commit ID").
		Required().
		StringVar(&cli.LsTreeCLI.CommitID)
	configureKind(cli, appLsTree)
}

/*
	Blocks until a sigint is received, then calls cancel.
*/
func CancelOnInterrupt(ctx context.Context, cancel context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	defer signal.Stop(signalChan)
	select {
	case <-signalChan:
		cancel()
	case <-ctx.Done():
	}
}

func main() {
	ctx := context.Background()
	exitCode := Main(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(int(exitCode))
}

func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) api.ExitCode {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go CancelOnInterrupt(ctx, cancel)

	cli := baseCLI{}

	app := kingpin.New("addongit", "Per-addon git repositories of uploaded versions")
	app.HelpFlag.Short('h')

	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)

	app.Flag("format", "Output api format").
		Default(FmtDumb).
		EnumVar(&cli.Format, FmtJson, FmtDumb)
	app.Flag("verbose", "Emit log events on stderr").
		Short('v').
		BoolVar(&cli.Verbose)

	appInit := app.Command("init", "create an artifact's repository if it doesn't exist yet")
	configureInit(&cli, appInit)

	appCommit := app.Command("commit", "extract an archive and commit it onto a channel's branch")
	configureCommit(&cli, appCommit)

	appLog := app.Command("log", "list a channel's history, newest first")
	configureLog(&cli, appLog)

	appLsTree := app.Command("ls-tree", "list the files of an artifact as of a commit")
	configureLsTree(&cli, appLsTree)

	var termErr error
	app.Terminate(func(status int) {
		termErr = fmt.Errorf("parsing error: %d\n", status)
	})
	cmd, err := app.Parse(args[1:])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return api.ExitUsage
	}
	if termErr != nil {
		fmt.Fprintln(stderr, termErr)
		return api.ExitUsage
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		SerializeResult(cli.Format, &api.Event_Result{}, err, stdout, stderr)
		return api.ExitCodeFor(Category(err))
	}
	mon, stopMonitor := startMonitor(cli.Format, cli.Verbose, stderr)
	mgr := newManager(cfg, gitstore.WithMonitor(mon))

	result := &api.Event_Result{}
	switch cmd {
	case appInit.FullCommand():
		err = executeInit(mgr, cli, result)
	case appCommit.FullCommand():
		err = executeCommit(ctx, mgr, cli, result)
	case appLog.FullCommand():
		err = executeLog(mgr, cli, result)
	case appLsTree.FullCommand():
		err = executeLsTree(mgr, cli, result)
	}
	stopMonitor()

	SerializeResult(cli.Format, result, err, stdout, stderr)
	return api.ExitCodeFor(Category(err))
}

/*
	Returns a monitor that prints every log event to stderr, and a func that
	must be called once all operations using the monitor are done.

	When not verbose, the monitor is disabled entirely.
*/
func startMonitor(format string, verbose bool, stderr io.Writer) (api.Monitor, func()) {
	if !verbose {
		return api.Monitor{}, func() {}
	}
	ch := make(chan api.Event)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			switch format {
			case FmtJson:
				if err := refmt.NewMarshallerAtlased(json.EncodeOptions{}, stderr, api.Atlas).Marshal(&ev); err != nil {
					panic(err)
				}
				fmt.Fprintln(stderr)
			default:
				fmt.Fprintf(stderr, "%s: %s", ev.Log.Level, ev.Log.Msg)
				for _, kv := range ev.Log.Detail {
					fmt.Fprintf(stderr, " %s=%s", kv[0], kv[1])
				}
				fmt.Fprintln(stderr)
			}
		}
	}()
	return api.Monitor{Chan: ch}, func() {
		close(ch)
		<-done
	}
}

func SerializeResult(format string, result *api.Event_Result, resultErr error, stdout io.Writer, stderr io.Writer) {
	result.SetError(resultErr)
	ev := api.Event{Result: result}
	switch format {
	case FmtJson:
		marshaller := refmt.NewMarshallerAtlased(json.EncodeOptions{}, stdout, api.Atlas)
		err := marshaller.Marshal(&ev)
		if err != nil {
			panic(err)
		}
		fmt.Fprintln(stdout)
	case FmtDumb:
		if resultErr != nil {
			fmt.Fprintln(stderr, resultErr)
			return
		}
		switch {
		case result.CommitID != "":
			fmt.Fprintln(stdout, result.CommitID)
		case result.History != nil:
			for _, commit := range result.History {
				fmt.Fprintf(stdout, "%s %s %s\n", commit.CommitID, commit.Author, firstLine(commit.Message))
			}
		case result.Files != nil:
			for _, file := range result.Files {
				fmt.Fprintf(stdout, "%s %s\t%s\n", file.Mode, file.Hash, file.Path)
			}
		case result.Repository != "":
			fmt.Fprintln(stdout, result.Repository)
		}
	default:
		panic(fmt.Errorf("addongit: invalid format %s", format))
	}
}

func firstLine(msg string) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}

func openRepository(mgr *gitstore.Manager, artifact string, kind string) (*gitstore.Repository, error) {
	id, err := api.ParseArtifactID(artifact)
	if err != nil {
		return nil, err
	}
	pkind, err := api.ParsePackageKind(kind)
	if err != nil {
		return nil, err
	}
	return mgr.OpenOrInit(id, pkind)
}

func executeInit(mgr *gitstore.Manager, cli baseCLI, result *api.Event_Result) error {
	repo, err := openRepository(mgr, cli.InitCLI.ArtifactID, cli.Kind)
	if err != nil {
		return err
	}
	result.Repository = repo.Path().String()
	return nil
}

func executeCommit(ctx context.Context, mgr *gitstore.Manager, cli baseCLI, result *api.Event_Result) error {
	args := cli.CommitCLI
	var author *api.Identity
	switch {
	case args.AuthorName == "" && args.AuthorEmail == "":
		// service identity.
	case args.AuthorName == "" || args.AuthorEmail == "":
		return Errorf(api.ErrUsage, "--author-name and --author-email must be given together")
	default:
		author = &api.Identity{Name: args.AuthorName, Email: args.AuthorEmail}
	}
	channel, err := api.ParseChannel(args.Channel)
	if err != nil {
		return err
	}
	repo, err := openRepository(mgr, args.ArtifactID, cli.Kind)
	if err != nil {
		return err
	}
	result.Repository = repo.Path().String()

	var commitID api.CommitID
	err = backoff.Retry(func() error {
		var err error
		commitID, err = mgr.MaterializeRevision(ctx, repo, args.Archive, channel, args.Message, author)
		if err != nil && Category(err) != api.ErrBranchConflict {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(newBackOff(), args.Retries), ctx))
	switch err {
	case nil:
	case context.Canceled, context.DeadlineExceeded:
		return Errorf(api.ErrCancelled, "cancelled while waiting to retry: %s", err)
	default:
		return err
	}
	result.CommitID = commitID
	return nil
}

// Both swapped out by tests.
var (
	newManager = gitstore.NewManager
	newBackOff = defaultBackOff
)

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

func executeLog(mgr *gitstore.Manager, cli baseCLI, result *api.Event_Result) error {
	channel, err := api.ParseChannel(cli.LogCLI.Channel)
	if err != nil {
		return err
	}
	repo, err := openRepository(mgr, cli.LogCLI.ArtifactID, cli.Kind)
	if err != nil {
		return err
	}
	result.Repository = repo.Path().String()
	result.History, err = repo.History(channel)
	return err
}

func executeLsTree(mgr *gitstore.Manager, cli baseCLI, result *api.Event_Result) error {
	commitID, err := api.ParseCommitID(cli.LsTreeCLI.CommitID)
	if err != nil {
		return err
	}
	repo, err := openRepository(mgr, cli.LsTreeCLI.ArtifactID, cli.Kind)
	if err != nil {
		return err
	}
	result.Repository = repo.Path().String()
	files, err := repo.Files(commitID)
	if err != nil {
		return err
	}
	result.Files = files
	if result.Files == nil {
		result.Files = []api.FileInfo{}
	}
	return nil
}
