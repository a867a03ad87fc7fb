package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli"

	cmdCommon "github.com/hostup/hostup/cmd/common"
)

func credentialSet(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) < 3 {
		return cmdCommon.PrintErrWithCmdHelp(ctx,
			fmt.Errorf("usage: credential set <host> <field> <value>"))
	}
	client, err := newDaemonClient(nil)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "credential set", "new_client", err)
		return nil
	}
	defer client.Close()

	if err := client.SetCredential(context.Background(), args[0], args[1], args[2]); err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "credential set", "credential_set", err)
		return nil
	}
	fmt.Printf("Stored %s for %s.\n", args[1], args[0])
	return nil
}

func credentialDelete(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) < 2 {
		return cmdCommon.PrintErrWithCmdHelp(ctx,
			fmt.Errorf("usage: credential delete <host> <field>"))
	}
	client, err := newDaemonClient(nil)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "credential delete", "new_client", err)
		return nil
	}
	defer client.Close()

	if err := client.DeleteCredential(context.Background(), args[0], args[1]); err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "credential delete", "credential_delete", err)
		return nil
	}
	fmt.Printf("Removed %s for %s.\n", args[1], args[0])
	return nil
}

func credentialList(ctx *cli.Context) error {
	host := ctx.Args().First()
	if host == "" {
		return cmdCommon.PrintErrWithCmdHelp(ctx, fmt.Errorf("no host provided"))
	}
	client, err := newDaemonClient(nil)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "credential list", "new_client", err)
		return nil
	}
	defer client.Close()

	fields, err := client.ListCredentials(context.Background(), host)
	if err != nil {
		cmdCommon.PrintRuntimeErr(ctx, "credential list", "credential_list", err)
		return nil
	}
	if len(fields) == 0 {
		fmt.Printf("No credentials stored for %s.\n", host)
		return nil
	}
	fmt.Printf("Credentials for %s:\n", host)
	for _, f := range fields {
		fmt.Println(" ", f)
	}
	return nil
}
