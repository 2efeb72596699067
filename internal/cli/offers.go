package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/offerwatch/internal/core/domain"
)

var (
	offersDomain string
	offersBuyer  string
	offersLimit  int
)

var offersCmd = &cobra.Command{
	Use:   "offers",
	Short: "List the offers of a domain",
	Run:   runOffers,
}

func init() {
	offersCmd.Flags().StringVar(&offersDomain, "domain", "", "domain name, e.g. example.sui")
	offersCmd.Flags().StringVar(&offersBuyer, "buyer", "", "only show the latest offer of this buyer")
	offersCmd.Flags().IntVar(&offersLimit, "limit", 20, "maximum number of offers")
	_ = offersCmd.MarkFlagRequired("domain")
	rootCmd.AddCommand(offersCmd)
}

func runOffers(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	store, err := openDatabaseStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	var offers []*domain.Offer
	if offersBuyer != "" {
		offer, err := store.Offers().Latest(ctx, offersDomain, offersBuyer)
		if err != nil {
			slog.Error("Failed to get offer", "error", err)
			os.Exit(1)
		}
		if offer != nil {
			offers = append(offers, offer)
		}
	} else {
		offers, err = store.Offers().ListByDomain(ctx, offersDomain, offersLimit)
		if err != nil {
			slog.Error("Failed to list offers", "error", err)
			os.Exit(1)
		}
	}

	if len(offers) == 0 {
		fmt.Printf("No offers for %s\n", offersDomain)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tBUYER\tSTATUS\tVALUE\tINITIAL\tOWNER\tUPDATED")
	for _, o := range offers {
		owner := "-"
		if o.Owner != nil {
			owner = *o.Owner
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ID,
			o.Buyer,
			o.Status,
			o.Value.String(),
			o.InitialValue.String(),
			owner,
			o.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}
