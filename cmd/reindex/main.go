package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/jseaddons/clashcore/internal/app"
	"github.com/jseaddons/clashcore/internal/platform/dbctx"
)

type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }
func (l *idList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

func main() {
	var clusters idList
	var force bool
	flag.Var(&clusters, "audit-cluster", "cluster id to audit for dangling members (repeatable)")
	flag.BoolVar(&force, "force", false, "rebuild the spatial index even when consistent")
	flag.Parse()

	application, err := app.New()
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	fmt.Printf("spatial strategy: %s\n", application.Spatial.Name())
	if force {
		if err := application.Spatial.Rebuild(dbc); err != nil {
			fmt.Printf("rebuild: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("spatial index rebuilt")
	} else {
		ok, err := application.Spatial.VerifyConsistency(dbc)
		if err != nil {
			fmt.Printf("verify: %v\n", err)
			os.Exit(1)
		}
		if ok {
			fmt.Println("spatial index consistent")
		} else {
			fmt.Println("spatial index was inconsistent and has been rebuilt")
		}
	}

	for _, raw := range clusters {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil || id == uuid.Nil {
			fmt.Printf("skipping invalid cluster id %q\n", raw)
			continue
		}
		err = application.Tx.InTx(ctx, func(txc dbctx.Context) error {
			dangling, err := application.Builders.Cluster.VerifyMembership(txc, id)
			if err != nil {
				return err
			}
			if len(dangling) == 0 {
				fmt.Printf("cluster %s: membership intact\n", id)
				return nil
			}
			fmt.Printf("cluster %s: %d dangling member(s)\n", id, len(dangling))
			for _, zid := range dangling {
				fmt.Printf("  %s\n", zid)
			}
			return nil
		})
		if err != nil {
			fmt.Printf("audit %s: %v\n", id, err)
		}
	}
}
