// Command varlink is a small command line client for varlink services:
// it calls methods by qualified name and prints the JSON replies.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ericonr/libvarlink/varlink"
)

var (
	optTimeout time.Duration
	optMore    bool
	optOneway  bool
)

var rootCmd = &cobra.Command{
	Use:           "varlink",
	Short:         "Call methods of varlink services",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var callCmd = &cobra.Command{
	Use:   "call ADDRESS METHOD [PARAMETERS]",
	Short: "Call a method and print its reply",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		var parameters *varlink.Object
		if len(args) == 3 {
			var err error
			parameters, err = varlink.ObjectFromJSON([]byte(args[2]))
			if err != nil {
				return fmt.Errorf("parameters: %w", err)
			}
			defer parameters.Unref()
		}

		client, err := varlink.NewClient(ctx, args[0])
		if err != nil {
			return err
		}
		defer client.Close()

		switch {
		case optOneway:
			return client.CallOneway(ctx, args[1], parameters)

		case optMore:
			return client.CallMore(ctx, args[1], parameters, func(reply *varlink.Object) error {
				fmt.Println(reply.String())
				return nil
			})

		default:
			reply, err := client.Call(ctx, args[1], parameters)
			if err != nil {
				return err
			}
			defer reply.Unref()
			fmt.Println(reply.String())
			return nil
		}
	},
}

var infoCmd = &cobra.Command{
	Use:   "info ADDRESS",
	Short: "Print information about a service and its interfaces",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		client, err := varlink.NewClient(ctx, args[0])
		if err != nil {
			return err
		}
		defer client.Close()

		info, err := client.Call(ctx, "org.varlink.service.GetInfo", nil)
		if err != nil {
			return err
		}
		defer info.Unref()

		for _, field := range []string{"vendor", "product", "version", "url"} {
			if v, err := info.GetString(field); err == nil {
				fmt.Printf("%-10s %s\n", field+":", v)
			}
		}
		interfaces, err := info.GetArray("interfaces")
		if err != nil {
			return nil
		}
		fmt.Println("interfaces:")
		for i := 0; i < interfaces.Len(); i++ {
			if name, err := interfaces.GetString(i); err == nil {
				fmt.Println("  " + name)
			}
		}
		return nil
	},
}

func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	if optTimeout > 0 {
		tctx, tcancel := context.WithTimeout(ctx, optTimeout)
		return tctx, func() { tcancel(); cancel() }
	}
	return ctx, cancel
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	rootCmd.PersistentFlags().DurationVarP(&optTimeout, "timeout", "t", 0, "give up after this long")
	callCmd.Flags().BoolVarP(&optMore, "more", "m", false, "expect multiple replies")
	callCmd.Flags().BoolVarP(&optOneway, "oneway", "o", false, "expect no reply")
	rootCmd.AddCommand(callCmd, infoCmd)

	if err := rootCmd.Execute(); err != nil {
		var ce *varlink.CallError
		if errors.As(err, &ce) && ce.Parameters != nil {
			log.Error().Str("error", ce.Name).Msg(ce.Parameters.String())
		} else {
			log.Error().Err(err).Msg("call failed")
		}
		os.Exit(1)
	}
}
