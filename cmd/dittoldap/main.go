package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-ldap/ldap/v3"
	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/config"
	"github.com/marmos91/dittoldap/pkg/directory"
	"github.com/marmos91/dittoldap/pkg/server"
	"github.com/marmos91/dittoldap/pkg/session"
	"github.com/marmos91/dittoldap/pkg/sorting"
)

// seedEntries creates a small tree below suffix: two organizational units,
// a handful of people and a referral to another server.
func seedEntries(ctx context.Context, sess *session.Session, suffix string) error {
	rdn := strings.SplitN(suffix, ",", 2)[0]
	attr, value, _ := strings.Cut(rdn, "=")

	type seed struct {
		dn    string
		attrs map[string][]string
	}

	people := "ou=People," + suffix
	seeds := []seed{
		{suffix, map[string][]string{"objectClass": {"top", "domain"}, attr: {value}}},
		{people, map[string][]string{"objectClass": {"top", "organizationalUnit"}}},
		{"ou=Groups," + suffix, map[string][]string{"objectClass": {"top", "organizationalUnit"}}},
		{"ou=Remote," + suffix, map[string][]string{
			"objectClass": {"top", "referral", "extensibleObject"},
			"ref":         {"ldap://replica.example.com/ou=Remote," + suffix},
		}},
	}

	staff := []struct{ cn, sn, mail string }{
		{"Grace Hopper", "Hopper", "grace@example.com"},
		{"Alan Turing", "Turing", "alan@example.com"},
		{"Ada Lovelace", "Lovelace", "ada@example.com"},
		{"Edsger Dijkstra", "Dijkstra", "edsger@example.com"},
		{"Barbara Liskov", "Liskov", "barbara@example.com"},
	}
	for _, p := range staff {
		seeds = append(seeds, seed{"cn=" + p.cn + "," + people, map[string][]string{
			"objectClass": {"top", "person", "organizationalPerson", "inetOrgPerson"},
			"sn":          {p.sn},
			"mail":        {p.mail},
		}})
	}

	for _, s := range seeds {
		req := ldap.NewAddRequest(s.dn, nil)
		for name, values := range s.attrs {
			req.Attribute(name, values)
		}
		resp, err := sess.Add(ctx, req, session.WaitForLimiter())
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", s.dn, err)
		}
		if !resp.Success() {
			return fmt.Errorf("failed to add %s: %s", s.dn, ldap.LDAPResultCodeMap[resp.Code])
		}
	}

	logger.Info("Seeded %d entries below %s", len(seeds), suffix)
	return nil
}

// registerAuditTrigger logs every add and delete through a stored procedure.
func registerAuditTrigger(t *directory.TriggerInterceptor) error {
	audit := func(_ context.Context, args []directory.Argument) error {
		fields := make(map[string]any, len(args))
		for _, a := range args {
			fields[a.Name] = a.Value
		}
		logger.WithFields(fields).Debug("audit")
		return nil
	}
	if err := t.RegisterProcedure("audit", audit); err != nil {
		return err
	}

	for _, kind := range []directory.OperationKind{directory.OpAdd, directory.OpDelete} {
		if err := t.AddTrigger(directory.Trigger{
			Name:       "audit-" + kind.String(),
			On:         kind,
			Procedure:  "audit",
			Parameters: []directory.Parameter{directory.ParamPrincipal{}, directory.ParamName{}},
		}); err != nil {
			return err
		}
	}
	return nil
}

// runSearch searches below base and prints every entry followed by the
// final result.
func runSearch(ctx context.Context, sess *session.Session, base, filter, sortKey string, reverse bool) {
	var controls []ldap.Control
	if sortKey != "" {
		attr, rule, _ := strings.Cut(sortKey, ":")
		controls = append(controls, sorting.NewSortRequest(true, sorting.SortKey{
			AttributeType: attr,
			MatchingRule:  rule,
			Reverse:       reverse,
		}))
	}

	req := ldap.NewSearchRequest(base, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		0, 0, false, filter, nil, controls)

	it := sess.SearchIterator(ctx, req)
	defer func() { _ = it.Close() }()

	for {
		resp, ok := it.Next()
		if !ok {
			break
		}
		if resp.IsReference() {
			for _, url := range resp.Reference.URLs {
				fmt.Printf("reference: %s\n", url)
			}
			continue
		}
		if !resp.IsDone() {
			fmt.Printf("dn: %s\n", resp.Entry.DN)
			for _, a := range resp.Entry.Attributes {
				for _, v := range a.Values {
					fmt.Printf("  %s: %s\n", a.Name, v)
				}
			}
			continue
		}

		done := resp.Done
		fmt.Printf("\nresult: %d (%s)", done.Code, ldap.LDAPResultCodeMap[done.Code])
		if done.Diagnostic != "" {
			fmt.Printf(" %s", done.Diagnostic)
		}
		fmt.Println()
		for _, ref := range done.Referrals {
			fmt.Printf("referral: %s\n", ref)
		}
		for _, c := range done.Controls {
			fmt.Printf("control: %s\n", c)
		}
	}

	fmt.Printf("entries returned: %d\n", it.Sent())
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/dittoldap/config.yaml)")
	initConfig := flag.Bool("init", false, "Write a default config file and exit")
	force := flag.Bool("force", false, "Overwrite an existing config file with -init")
	logLevel := flag.String("log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	seed := flag.Bool("seed", true, "Populate the first partition with sample entries")
	base := flag.String("base", "", "Search base (default: first partition suffix)")
	filter := flag.String("filter", "(objectClass=person)", "Search filter")
	sortKey := flag.String("sort", "sn", "Sort key as attribute[:orderingRule]; empty disables sorting")
	reverse := flag.Bool("reverse", false, "Sort in reverse order")
	serve := flag.Bool("serve", false, "Keep running (serving metrics) until interrupted")
	flag.Parse()

	if *initConfig {
		path := *configPath
		var err error
		if path == "" {
			path, err = config.InitConfig(*force)
		} else {
			err = config.InitConfigToPath(path, *force)
		}
		if err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Configuration written to %s\n", path)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = strings.ToUpper(*logLevel)
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("DittoLDAP - Directory Server")

	m := config.InitializeMetrics(cfg)

	s, err := config.CreateSchema(&cfg.Schema)
	if err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}

	dir, err := config.InitializeDirectory(ctx, cfg, s, m.Directory)
	if err != nil {
		log.Fatalf("Failed to initialize directory: %v", err)
	}

	if err := registerAuditTrigger(dir.Triggers); err != nil {
		log.Fatalf("Failed to register triggers: %v", err)
	}

	sorter := config.CreateSorter(&cfg.Sort, m.Sort)
	collector, err := config.CreateCollector(&cfg.Sort, sorter)
	if err != nil {
		log.Fatalf("Failed to create sort index collector: %v", err)
	}
	if stats, err := collector.RunNow(ctx); err != nil {
		logger.Warn("Startup sort index collection failed: %v", err)
	} else if stats.DeletedCount > 0 {
		logger.Info("Removed %d orphaned sort index(es)", stats.DeletedCount)
	}
	factory := config.NewSessionFactory(cfg, dir.Nexus, s, sorter, m)

	admin := directory.NewPrincipal("cn=admin,"+cfg.Directory.Partitions[0].Suffix, directory.AuthSimple)
	sess, err := factory.NewSession(admin, nil, nil)
	if err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}

	if *seed {
		if err := seedEntries(ctx, sess, cfg.Directory.Partitions[0].Suffix); err != nil {
			log.Fatalf("Failed to seed directory: %v", err)
		}
	}

	searchBase := *base
	if searchBase == "" {
		searchBase = cfg.Directory.Partitions[0].Suffix
	}
	logger.Debug("Searching %s (partitions: %v)", searchBase, dir.Nexus.Partitions())

	runSearch(ctx, sess, searchBase, *filter, *sortKey, *reverse)
	if err := sess.Unbind(ctx); err != nil {
		logger.Warn("Unbind failed: %v", err)
	}

	if dir.ChangeLog != nil {
		logger.Info("Change log holds %d event(s), last sequence %d", len(dir.ChangeLog.Events()), dir.ChangeLog.LastSeq())
	}

	if !*serve {
		if err := dir.Nexus.Close(); err != nil {
			logger.Error("Failed to close directory: %v", err)
		}
		return
	}

	srv := server.New(dir.Nexus, cfg.Server.ShutdownTimeout)
	if m.Server != nil {
		m.Server.SetHealthCheck(func(context.Context) error {
			if len(dir.Nexus.Partitions()) == 0 {
				return errors.New("no partitions attached")
			}
			return nil
		})
		if err := srv.AddService(server.MetricsService(m.Server)); err != nil {
			log.Fatalf("Failed to register metrics: %v", err)
		}
	}
	if err := srv.AddService(server.CollectorService(collector)); err != nil {
		log.Fatalf("Failed to register sort index collector: %v", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Server is running. Press Ctrl+C to stop.")
	if err := srv.Serve(sigCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Server error: %v", err)
		os.Exit(1)
	}
}
