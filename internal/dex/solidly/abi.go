package solidly

// Minimal ABI fragments for Aerodrome/Velodrome-style routers. Routes
// carry the stability flag and factory per hop.

const routerABI = `[
  {"inputs":[
     {"internalType":"uint256","name":"amountIn","type":"uint256"},
     {"components":[
        {"internalType":"address","name":"from","type":"address"},
        {"internalType":"address","name":"to","type":"address"},
        {"internalType":"bool","name":"stable","type":"bool"},
        {"internalType":"address","name":"factory","type":"address"}],
      "internalType":"struct IRouter.Route[]","name":"routes","type":"tuple[]"}],
   "name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[
     {"internalType":"uint256","name":"amountIn","type":"uint256"},
     {"internalType":"uint256","name":"amountOutMin","type":"uint256"},
     {"components":[
        {"internalType":"address","name":"from","type":"address"},
        {"internalType":"address","name":"to","type":"address"},
        {"internalType":"bool","name":"stable","type":"bool"},
        {"internalType":"address","name":"factory","type":"address"}],
      "internalType":"struct IRouter.Route[]","name":"routes","type":"tuple[]"},
     {"internalType":"address","name":"to","type":"address"},
     {"internalType":"uint256","name":"deadline","type":"uint256"}],
   "name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],
   "stateMutability":"nonpayable","type":"function"},
  {"inputs":[
     {"internalType":"uint256","name":"amountIn","type":"uint256"},
     {"internalType":"uint256","name":"amountOutMin","type":"uint256"},
     {"components":[
        {"internalType":"address","name":"from","type":"address"},
        {"internalType":"address","name":"to","type":"address"},
        {"internalType":"bool","name":"stable","type":"bool"},
        {"internalType":"address","name":"factory","type":"address"}],
      "internalType":"struct IRouter.Route[]","name":"routes","type":"tuple[]"},
     {"internalType":"address","name":"to","type":"address"},
     {"internalType":"uint256","name":"deadline","type":"uint256"}],
   "name":"swapExactTokensForTokensSupportingFeeOnTransferTokens","outputs":[],
   "stateMutability":"nonpayable","type":"function"}
]`

const factoryABI = `[
  {"inputs":[
     {"internalType":"address","name":"tokenA","type":"address"},
     {"internalType":"address","name":"tokenB","type":"address"},
     {"internalType":"bool","name":"stable","type":"bool"}],
   "name":"getPool","outputs":[{"internalType":"address","name":"pool","type":"address"}],
   "stateMutability":"view","type":"function"}
]`

const pairABI = `[
  {"inputs":[],"name":"getReserves","outputs":[
     {"internalType":"uint112","name":"_reserve0","type":"uint112"},
     {"internalType":"uint112","name":"_reserve1","type":"uint112"},
     {"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],
   "stateMutability":"view","type":"function"}
]`
