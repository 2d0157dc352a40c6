package collect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/novogod/hostbackup/internal/dockercli"
)

// DumpCredentials authenticate a dump command inside a database container.
type DumpCredentials struct {
	Username string
	Password string
}

// CredentialSource resolves dump credentials per database engine. A nil
// source, or a source returning nil credentials, selects the engine-default
// unauthenticated command.
type CredentialSource interface {
	Lookup(ctx context.Context, engine string) (*DumpCredentials, error)
}

// dumpSpec describes how to dump one database engine family.
type dumpSpec struct {
	engine        string
	imagePatterns []string
	extension     string
	command       func(creds *DumpCredentials) []string
}

var dumpSpecs = []dumpSpec{
	{
		engine:        "postgres",
		imagePatterns: []string{"postgres", "timescale", "pgvector"},
		extension:     "sql",
		command: func(creds *DumpCredentials) []string {
			if creds != nil {
				return []string{"sh", "-c",
					fmt.Sprintf("PGPASSWORD=%q pg_dumpall -U %q", creds.Password, creds.Username)}
			}
			return []string{"pg_dumpall", "-U", "postgres"}
		},
	},
	{
		engine:        "mysql",
		imagePatterns: []string{"mysql", "mariadb", "percona"},
		extension:     "sql",
		command: func(creds *DumpCredentials) []string {
			if creds != nil {
				return []string{"sh", "-c",
					fmt.Sprintf("mysqldump --all-databases -u%q -p%q", creds.Username, creds.Password)}
			}
			return []string{"sh", "-c", `mysqldump --all-databases -uroot -p"$MYSQL_ROOT_PASSWORD"`}
		},
	},
	{
		engine:        "mongodb",
		imagePatterns: []string{"mongo"},
		extension:     "archive",
		command: func(creds *DumpCredentials) []string {
			if creds != nil {
				return []string{"mongodump", "--archive",
					"-u", creds.Username, "-p", creds.Password}
			}
			return []string{"mongodump", "--archive"}
		},
	},
}

func matchSpec(image string) *dumpSpec {
	image = strings.ToLower(image)
	for i := range dumpSpecs {
		for _, pat := range dumpSpecs[i].imagePatterns {
			if strings.Contains(image, pat) {
				return &dumpSpecs[i]
			}
		}
	}
	return nil
}

// DatabaseCollector streams live dumps out of running database containers
// over the engine's control channel. Dumps are a best-effort add-on to the
// volume backup: one failed container is a partial failure, never an abort.
type DatabaseCollector struct {
	Engine      dockercli.Engine
	Credentials CredentialSource
}

func (DatabaseCollector) Name() string       { return "databases" }
func (DatabaseCollector) Category() Category { return CategoryDocker }

func (c DatabaseCollector) Collect(ctx context.Context, stage *Stage) ([]Artifact, error) {
	const sub = "docker/databases"
	if _, err := stage.EnsureDir(sub); err != nil {
		return nil, err
	}

	containers, err := c.Engine.Containers(ctx)
	if err != nil {
		return nil, err
	}

	var errs error
	var artifacts []Artifact
	for _, ct := range containers {
		spec := matchSpec(ct.Image)
		if spec == nil || !ct.Running() {
			continue
		}

		// The engine name inside the filename tells the restore procedure
		// which replay client to use.
		rel := filepath.Join(sub, fmt.Sprintf("%s.%s.%s", ct.Name, spec.engine, spec.extension))
		if err := c.dump(ctx, stage, ct, spec, rel); err != nil {
			stage.Log.Warn("database dump failed",
				"container", ct.Name,
				"engine", spec.engine,
				"error", err,
			)
			errs = multierr.Append(errs, fmt.Errorf("dump %s (%s): %w", ct.Name, spec.engine, err))
			continue
		}

		if a, aerr := stage.Artifact(c.Category(), rel); aerr == nil {
			artifacts = append(artifacts, a)
			stage.Log.Info("dumped database",
				"container", ct.Name,
				"engine", spec.engine,
				"bytes", a.SizeBytes,
			)
		}
	}
	return artifacts, errs
}

func (c *DatabaseCollector) dump(
	ctx context.Context,
	stage *Stage,
	ct dockercli.Container,
	spec *dumpSpec,
	rel string,
) error {
	var creds *DumpCredentials
	if c.Credentials != nil {
		var err error
		creds, err = c.Credentials.Lookup(ctx, spec.engine)
		if err != nil {
			stage.Log.Warn("credential lookup failed, using engine defaults",
				"engine", spec.engine, "error", err)
		}
	}

	out, err := os.Create(stage.Path(rel))
	if err != nil {
		return err
	}

	cctx, cancel := stage.commandContext(ctx)
	defer cancel()

	if err := c.Engine.Exec(cctx, ct.Name, out, spec.command(creds)); err != nil {
		out.Close()
		os.Remove(stage.Path(rel))
		return err
	}
	return out.Close()
}
