package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/phobos-lrs/lrs/internal/dss"
	"github.com/phobos-lrs/lrs/internal/resource"
)

func openStore(ctx context.Context, dsn string) (*dss.Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("--postgres-dsn (or PHOBOS_POSTGRES_DSN) is required")
	}
	return dss.NewStore(ctx, dsn)
}

func openClient(ctx context.Context, dsn, redisAddr string) (*dss.Client, error) {
	if dsn == "" {
		return nil, fmt.Errorf("--postgres-dsn (or PHOBOS_POSTGRES_DSN) is required")
	}
	return dss.NewClient(ctx, dsn, &redis.Options{Addr: redisAddr})
}

func listDevicesCmd(dsn *string) *cobra.Command {
	var family, host string
	cmd := &cobra.Command{
		Use:   "list-devices",
		Short: "List devices known to the DSS",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), *dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			devices, err := store.DeviceGet(cmd.Context(), dss.DeviceFilter{
				Family: resource.Family(family),
				Host:   host,
			})
			if err != nil {
				return err
			}
			for _, d := range devices {
				fmt.Printf("%s\tmodel=%s\thost=%s\tadm=%s\top=%s\tdev_path=%s\n",
					d.ID.String(), d.Model, d.Host, d.AdmStatus, d.OpStatus, d.DevPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&family, "family", "", "Filter by resource family (tape, disk, rados_pool)")
	cmd.Flags().StringVar(&host, "host", "", "Filter by owning host")
	return cmd
}

func setAdmStatusCmd(dsn *string) *cobra.Command {
	var family, name, status string
	cmd := &cobra.Command{
		Use:   "set-adm-status",
		Short: "Set a device's administrative status (unlocked, locked, failed)",
		Long:  "Used by an operator to lock a device for maintenance, or to clear a failed status once the underlying fault is resolved",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), *dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			var adm resource.AdmStatus
			switch status {
			case "unlocked", "locked", "failed":
				adm = resource.AdmStatus(status)
			default:
				return fmt.Errorf("invalid --status %q (valid: unlocked, locked, failed)", status)
			}

			id := resource.ID{Family: resource.Family(family), Name: name}
			if err := store.DeviceUpdateAdmStatus(cmd.Context(), id, adm); err != nil {
				return err
			}
			fmt.Printf("%s adm_status -> %s\n", id.String(), adm)
			return nil
		},
	}
	cmd.Flags().StringVar(&family, "family", "", "Device family")
	cmd.Flags().StringVar(&name, "name", "", "Device name")
	cmd.Flags().StringVar(&status, "status", "", "New adm_status: unlocked, locked, failed")
	cmd.MarkFlagRequired("family")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("status")
	return cmd
}

func releaseCmd(dsn *string) *cobra.Command {
	var redisAddr, family, name, owner string
	var medium bool
	cmd := &cobra.Command{
		Use:   "release-lock",
		Short: "Force-release a stuck device or medium distributed lock",
		Long:  "Breaks a lock left behind by a crashed worker; use only once the owning host is confirmed dead",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd.Context(), *dsn, redisAddr)
			if err != nil {
				return err
			}
			defer client.Store.Close()

			id := resource.ID{Family: resource.Family(family), Name: name}
			if medium {
				err = client.MediaRelease(cmd.Context(), id, owner)
			} else {
				err = client.DeviceRelease(cmd.Context(), id, owner)
			}
			if err != nil {
				return err
			}
			fmt.Printf("released lock on %s (owner %s)\n", id.String(), owner)
			return nil
		},
	}
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address backing the distributed lock")
	cmd.Flags().StringVar(&family, "family", "", "Resource family")
	cmd.Flags().StringVar(&name, "name", "", "Resource name")
	cmd.Flags().StringVar(&owner, "owner", "", "Lock owner token to release")
	cmd.Flags().BoolVar(&medium, "medium", false, "Release a medium lock instead of a device lock")
	cmd.MarkFlagRequired("family")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("owner")
	return cmd
}
