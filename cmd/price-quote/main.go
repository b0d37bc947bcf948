package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"event-ticketing-checkout/internal/models"
	"event-ticketing-checkout/internal/pricing"
	"event-ticketing-checkout/internal/services"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// cartFile is the input format: an event's offerings, the requested lines
// and an optional promotion
type cartFile struct {
	Offerings []models.TicketOffering     `json:"offerings"`
	Lines     []models.SelectionLine      `json:"lines"`
	Promotion *models.PromotionDescriptor `json:"promotion,omitempty"`
}

type quote struct {
	Clamped []models.SelectionLine `json:"clamped,omitempty"`
	Order   *models.PricedOrder    `json:"order"`
}

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cartPath := flag.String("cart", "-", "Path to the cart JSON file, or - for stdin")
	feeRate := flag.String("fee-rate", envOr("SERVICE_FEE_RATE", pricing.DefaultFeeRate.String()), "Service fee rate applied to the subtotal")
	perOrderCap := flag.Int("cap", models.DefaultPerOrderCap, "Maximum tickets of one type per order")
	flag.Parse()

	rate, err := decimal.NewFromString(*feeRate)
	if err != nil {
		log.WithError(err).Fatal("Invalid fee rate")
	}

	var in io.Reader = os.Stdin
	if *cartPath != "-" {
		file, err := os.Open(*cartPath)
		if err != nil {
			log.WithError(err).Fatal("Failed to open cart file")
		}
		defer file.Close()
		in = file
	}

	result, err := priceCart(in, rate, *perOrderCap)
	if err != nil {
		log.WithError(err).Fatal(models.UserMessage(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.WithError(err).Fatal("Failed to write quote")
	}
}

// priceCart clamps the requested lines the way a checkout session does and
// prices what remains
func priceCart(in io.Reader, feeRate decimal.Decimal, perOrderCap int) (*quote, error) {
	var cart cartFile
	if err := json.NewDecoder(in).Decode(&cart); err != nil {
		return nil, fmt.Errorf("failed to decode cart: %w", err)
	}

	selection := services.NewSelection(cart.Offerings, perOrderCap)
	result := &quote{}
	for _, line := range cart.Lines {
		stored, err := selection.SetQuantity(line.OfferingID, line.RequestedQuantity)
		if err != nil {
			return nil, err
		}
		if stored != line.RequestedQuantity {
			result.Clamped = append(result.Clamped, models.SelectionLine{OfferingID: line.OfferingID, RequestedQuantity: stored})
		}
	}

	order, err := pricing.NewCalculator(feeRate).Price(selection.Lines(), selection.Offerings(), cart.Promotion)
	if err != nil {
		return nil, err
	}
	result.Order = order
	return result, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
