package orders

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pharmaflow-backend/pkg/db/models"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func orDefault(override *decimal.Decimal, fallback decimal.Decimal) decimal.Decimal {
	if override != nil {
		return money(*override)
	}
	return fallback
}

// priceLine snapshots one line. Rate falls back from the override to the
// trade price to MRP; GST is split evenly into CGST and SGST.
func priceLine(product *models.Product, item ItemInput) models.OrderItem {
	base := product.MRP
	if product.PTR != nil {
		base = *product.PTR
	}
	rate := orDefault(item.Rate, money(base))
	qty := decimal.NewFromInt(int64(item.Quantity))
	discount := orDefault(item.Discount, decimal.Zero)
	taxable := rate.Mul(qty).Sub(discount)

	halfTax := money(taxable.Mul(product.GSTPercent).Div(hundred).Div(two))
	cgst := orDefault(item.CGST, halfTax)
	sgst := orDefault(item.SGST, halfTax)
	amount := orDefault(item.Amount, money(taxable.Add(cgst).Add(sgst)))

	return models.OrderItem{
		ProductID:   product.ID,
		ProductName: product.Name,
		Batch:       item.Batch,
		Quantity:    item.Quantity,
		Rate:        rate,
		Discount:    discount,
		GSTPercent:  product.GSTPercent,
		CGST:        cgst,
		SGST:        sgst,
		Amount:      amount,
	}
}

// applyTotals fills the order totals from its priced lines.
func applyTotals(order *models.Order) {
	subtotal, discount, gst, net := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, item := range order.Items {
		subtotal = subtotal.Add(item.Rate.Mul(decimal.NewFromInt(int64(item.Quantity))))
		discount = discount.Add(item.Discount)
		gst = gst.Add(item.CGST).Add(item.SGST)
		net = net.Add(item.Amount)
	}
	order.Subtotal = money(subtotal)
	order.TotalDiscount = money(discount)
	order.TotalGST = money(gst)
	order.NetAmount = money(net)
}
