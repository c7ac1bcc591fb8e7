package main

import (
	"log"
	"net/http"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/src-d/gcfg"
	"gopkg.in/src-d/go-billy.v4/osfs"

	proxy "github.com/revam/go-git-smart-proxy"
)

// config is the gcfg (git-config style) file read by --config. Flags
// given on the command line win over the file.
type config struct {
	Server struct {
		Addr       string
		AutoDeploy bool `gcfg:"auto-deploy"`
	}
	Git struct {
		Root string
		Bin  string
	}
}

type CmdServe struct {
	Addr       string `short:"a" long:"addr" description:"Address to listen on." default:":8080"`
	Root       string `short:"r" long:"root" value-name:"dir" description:"Directory holding the repositories. Defaults to ~/repositories."`
	GitBin     string `long:"git-bin" value-name:"path" description:"The git executable to spawn. Defaults to git from $PATH."`
	Config     string `short:"c" long:"config" value-name:"file" description:"Read defaults from a git-config formatted file."`
	AutoDeploy bool   `long:"auto-deploy" description:"Accept every classified request, skipping the repository existence gate."`
}

func (c *CmdServe) Execute(args []string) error {
	if c.Config != "" {
		var cfg config
		if err := gcfg.ReadFileInto(&cfg, c.Config); err != nil {
			return err
		}

		if cfg.Server.Addr != "" && c.Addr == ":8080" {
			c.Addr = cfg.Server.Addr
		}

		if cfg.Git.Root != "" && c.Root == "" {
			c.Root = cfg.Git.Root
		}

		if cfg.Git.Bin != "" && c.GitBin == "" {
			c.GitBin = cfg.Git.Bin
		}

		c.AutoDeploy = c.AutoDeploy || cfg.Server.AutoDeploy
	}

	if c.Root == "" {
		home, err := homedir.Dir()
		if err != nil {
			return err
		}

		c.Root = filepath.Join(home, "repositories")
	}

	backend := proxy.GitBackend(osfs.New(c.Root), c.GitBin)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		svc := proxy.FromContext(r.Context())
		if svc == nil || svc.Type() == proxy.Unknown {
			return
		}

		if !c.AutoDeploy && !svc.Exists(r.Context()) {
			svc.Reject(http.StatusNotFound, "repository not found")
			return
		}

		if err := svc.Accept(r.Context()); err != nil {
			log.Printf("%s %s: accept: %s", svc.Type(), svc.Repository, err)
		}
	})

	mw := proxy.Middleware(proxy.Options{Backend: backend})

	log.Printf("serving %s on %s", c.Root, c.Addr)
	return http.ListenAndServe(c.Addr, mw(handler))
}
